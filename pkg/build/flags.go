// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata embedded into the voicestudio binary at
// link time:
//
//	go build -ldflags "-X voicestudio/pkg/build.buildName=voicestudio \
//	    -X voicestudio/pkg/build.buildVersion=0.3.0 \
//	    -X voicestudio/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X voicestudio/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds keep the defaults below.
package build

import (
	"errors"
	"fmt"
)

const (
	defaultName        = "voicestudio"
	defaultDescription = "Record, visualize, transcribe and speak from the terminal"
	unknown            = "unknown"
)

// ErrMissingFlag is wrapped by Initialize for every link-time value not set.
var ErrMissingFlag = errors.New("build flag not set")

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the flags for the version command.
func (f ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultFlags()
)

func defaultFlags() *ldFlags {
	return &ldFlags{
		Name:        defaultName,
		Description: defaultDescription,
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
	}
}

// Initialize copies every link-time value that was set and reports the ones
// that were not. The defaults stay in place for missing values, so callers can
// treat the error as a development build notice.
func Initialize() error {
	var errs []error
	set := func(dst *string, val, name string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingFlag, name))
			return
		}
		*dst = val
	}

	set(&buildFlags.Name, buildName, "buildName")
	set(&buildFlags.Time, buildTime, "buildTime")
	set(&buildFlags.Commit, buildCommit, "buildCommit")
	set(&buildFlags.Version, buildVersion, "buildVersion")

	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

// Development reports whether the binary was built without a version.
func Development() bool {
	return buildFlags.Version == unknown
}
