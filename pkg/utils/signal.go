// SPDX-License-Identifier: MIT

// Package utils holds signal generators and helpers shared by tests and the
// headless tools.
package utils

import (
	"cmp"
	"math"
)

// GenerateSineWave returns size full-scale int32 samples of a sine at
// frequency Hz, at 90% of full scale.
func GenerateSineWave(size int, sampleRate, frequency float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * math.MaxInt32 * 0.9)
	}
	return buffer
}

// GenerateVoiceWave approximates a voiced vowel: a 220Hz fundamental with two
// formant-range partials.
func GenerateVoiceWave(size int, sampleRate float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*220*tm)*0.5 +
			math.Sin(2*math.Pi*700*tm)*0.3 +
			math.Sin(2*math.Pi*1220*tm)*0.2
		buffer[i] = int32(signal * math.MaxInt32 * 0.9)
	}
	return buffer
}

// Interleave merges equal-length mono channels into one interleaved buffer.
// The shortest channel bounds the output.
func Interleave(channels ...[]int32) []int32 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	for _, ch := range channels[1:] {
		frames = min(frames, len(ch))
	}
	out := make([]int32, frames*len(channels))
	for f := range frames {
		for c, ch := range channels {
			out[f*len(channels)+c] = ch[f]
		}
	}
	return out
}

// FindPeakBin returns the index of the largest value in values[startBin:endBin+1].
// The first index wins on ties. Bounds are clamped to the slice.
func FindPeakBin[T cmp.Ordered](values []T, startBin, endBin int) int {
	if len(values) == 0 {
		return 0
	}
	startBin = max(startBin, 0)
	endBin = min(endBin, len(values)-1)
	if startBin > endBin {
		return startBin
	}

	peakBin := startBin
	peakValue := values[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if values[bin] > peakValue {
			peakValue = values[bin]
			peakBin = bin
		}
	}
	return peakBin
}
