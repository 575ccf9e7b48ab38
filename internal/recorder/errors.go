// SPDX-License-Identifier: MIT
package recorder

import (
	"errors"
	"fmt"
)

var (
	// ErrSegmentLoss marks a segment whose audio could not be turned into a
	// clip. It is never fatal to the session.
	ErrSegmentLoss = errors.New("recorder: segment lost")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("recorder: closed")
)

// SegmentLossError describes one lost segment.
type SegmentLossError struct {
	Seq int
	Err error
}

func (e *SegmentLossError) Error() string {
	return fmt.Sprintf("recorder: segment %d lost: %v", e.Seq, e.Err)
}

// Unwrap exposes both ErrSegmentLoss and the cause.
func (e *SegmentLossError) Unwrap() []error {
	return []error{ErrSegmentLoss, e.Err}
}
