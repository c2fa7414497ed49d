package fsx

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IoError is a transient file-system problem, carrying an errno-compatible
// code so callers can distinguish ENOENT (often tolerated) from other
// failures, per spec.md §7.
type IoError struct {
	Op      string
	Path    string
	Code    unix.Errno
	wrapped error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.wrapped)
}

func (e *IoError) Unwrap() error { return e.wrapped }

// IsNotExist reports whether the error denotes a missing file (ENOENT),
// the condition callers most often want to tolerate (e.g. unlinking an
// output that is already gone).
func (e *IoError) IsNotExist() bool { return e.Code == unix.ENOENT }

// NewIoError wraps a raw syscall error with the operation and path that
// produced it, preserving errno for IsNotExist-style checks downstream.
func NewIoError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	code := unix.Errno(0)
	var errno unix.Errno
	if errors.As(err, &errno) {
		code = errno
	}
	return errors.WithStack(&IoError{Op: op, Path: path, Code: code, wrapped: err})
}

// IsNotExist reports whether err (or any error it wraps) denotes a missing
// file.
func IsNotExist(err error) bool {
	var ioErr *IoError
	if errors.As(err, &ioErr) {
		return ioErr.IsNotExist()
	}
	return false
}
