// SPDX-License-Identifier: MIT
package main

import (
	"os"

	"voicestudio/cmd"
	"voicestudio/internal/audio"
	"voicestudio/internal/log"
	"voicestudio/pkg/build"
)

func main() {
	if err := build.Initialize(); err != nil {
		log.Debugf("Build: development build: %v", err)
	}

	if err := audio.Initialize(); err != nil {
		log.Fatalf("PortAudio: %v", err)
	}

	ctx, stop := cmd.NotifyContext()
	err := cmd.Execute(ctx, os.Args[1:])
	stop()

	if terr := audio.Terminate(); terr != nil {
		log.Warnf("PortAudio: %v", terr)
	}
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
