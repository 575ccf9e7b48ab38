// SPDX-License-Identifier: MIT
package visualizer

import (
	"sync"
	"time"

	"voicestudio/internal/config"

	"github.com/jonboulle/clockwork"
)

// Scheduler requests a single callback at the next display refresh.
type Scheduler interface {
	// RequestFrame schedules fn once. cancel prevents a pending call; it is
	// safe to call after fn has run.
	RequestFrame(fn func(now time.Time)) (cancel func())
}

// ClockScheduler paces frames from a clock at a fixed rate.
type ClockScheduler struct {
	clock    clockwork.Clock
	interval time.Duration
}

var _ Scheduler = (*ClockScheduler)(nil)

// NewClockScheduler returns a scheduler firing frameRate times per second.
// A nil clock uses the wall clock.
func NewClockScheduler(clock clockwork.Clock, frameRate int) *ClockScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if frameRate <= 0 || frameRate > config.MaxFrameRate {
		frameRate = config.DefaultFrameRate
	}
	return &ClockScheduler{clock: clock, interval: time.Second / time.Duration(frameRate)}
}

// Interval is the time between frames.
func (s *ClockScheduler) Interval() time.Duration {
	return s.interval
}

// RequestFrame implements Scheduler.
func (s *ClockScheduler) RequestFrame(fn func(now time.Time)) func() {
	return s.requestFrame(fn, nil)
}

// requestFrame closes exited when the frame goroutine returns.
func (s *ClockScheduler) requestFrame(fn func(now time.Time), exited chan<- struct{}) func() {
	timer := s.clock.NewTimer(s.interval)
	done := make(chan struct{})
	go func() {
		if exited != nil {
			defer close(exited)
		}
		select {
		case now := <-timer.Chan():
			// Both cases may be ready; a cancel that already happened wins.
			select {
			case <-done:
				return
			default:
			}
			fn(now)
		case <-done:
			timer.Stop()
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
