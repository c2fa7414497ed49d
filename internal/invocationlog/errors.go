package invocationlog

import "fmt"

// ParseError denotes a malformed invocation log record. It is never fatal
// to the caller: Parse attaches it as a warning, truncates the log back to
// the last known-good offset, and continues — a crash-recovery property
// documented in spec.md §4.C/§7 ("a partially-written log after a crash is
// the normal case").
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...interface{}) error {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}
