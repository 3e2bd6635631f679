// Package utils holds small helpers shared by the HDF5 codec packages:
// error wrapping, little-endian field access and overflow-checked sizes.
package utils

import (
	"errors"
	"fmt"
)

// ErrTruncated is returned when a structure extends past the bytes available.
var ErrTruncated = errors.New("truncated structure")

// H5Error attaches the codec step that failed to an underlying cause.
type H5Error struct {
	Context string
	Cause   error
}

func (e *H5Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *H5Error) Unwrap() error {
	return e.Cause
}

// WrapError wraps cause with context. A nil cause stays nil so callers can
// write `return utils.WrapError("...", err)` unconditionally.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &H5Error{Context: context, Cause: cause}
}

// Truncated reports a structure of the given kind that needs want bytes but
// only has got.
func Truncated(kind string, want, got int) error {
	return fmt.Errorf("%s: need %d bytes, have %d: %w", kind, want, got, ErrTruncated)
}
