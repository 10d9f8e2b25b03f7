// Package errcode defines the tagged errors used across the mocap pipeline.
//
// Every failure surfaced to a caller carries a machine-readable Kind, a
// human-readable message, and optionally the underlying technical detail.
// Kinds are matched with errors.Is via Kind.Is, so callers never string-match.
package errcode

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a class of pipeline failure.
type Kind string

// The pipeline failure taxonomy.
const (
	// InsufficientCalibrationImages means too few valid checkerboard detections were
	// found to solve intrinsics. Camera-specific; other cameras continue.
	InsufficientCalibrationImages Kind = "insufficient_calibration_images"
	// ExtrinsicCalibrationFailed means no frame of the calibration video yielded a
	// detectable board.
	ExtrinsicCalibrationFailed Kind = "extrinsic_calibration_failed"
	// UnsupportedPlacement means the configured checkerboard placement has no
	// rotation policy. Fatal to the trial.
	UnsupportedPlacement Kind = "unsupported_placement"
	// InsufficientReconstructedFrames means the triangulator produced fewer valid
	// frames than the minimum. Fatal to the trial, not retried.
	InsufficientReconstructedFrames Kind = "insufficient_reconstructed_frames"
	// CalibrationConsistencyViolation means the active extrinsics did not match the
	// persisted selection. Auto-corrected; only surfaced if correction itself fails.
	CalibrationConsistencyViolation Kind = "calibration_consistency_violation"
)

// Error is a tagged pipeline error.
type Error struct {
	Kind    Kind
	Message string
	// Detail carries the underlying technical cause, when available.
	Detail string
	cause  error
}

// New returns a tagged error with a human-readable message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error, preserving it as both cause and detail.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Detail: err.Error(), cause: err}
}

// WithDetail attaches technical detail to the error and returns it.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports kind equality so errors.Is(err, SomeKind) works on wrapped chains.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

// Error lets a bare Kind act as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// IsKind reports whether err or anything in its chain carries kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, kind)
}

// KindOf returns the kind carried by err, or the empty Kind.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return Kind("")
}
