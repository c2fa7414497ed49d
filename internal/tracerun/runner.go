// Package tracerun implements the tracing command runner: it wraps an
// inner, fork-exec-capable CommandRunner and observes each command's actual
// file I/O through a syscall tracer, instead of trusting manifest-declared
// dependencies or parsed depfiles.
//
// Grounded on original_source/src/cmd/command_runner.h (the CommandRunner
// contract) and src/cmd/trace_command_runner.cpp / src/cmd/shk_trace_server
// usage (mkstemp a trace path, rewrite the command through the tracer
// binary, decode the resulting artifact). The inner fork-exec runner lives
// in package subproc, grounded on nin's subprocess.go/subprocess_posix.go,
// with one waiting goroutine per child and a completion channel in place of
// their poll loop.
package tracerun

import (
	"fmt"
	"strings"
)

// ExitStatus mirrors the three terminal states a command can finish in.
type ExitStatus int

const (
	Success ExitStatus = iota
	Failure
	Interrupted
)

// Result is what a CommandRunner reports back per invocation.
type Result struct {
	ExitStatus ExitStatus
	Output     string
	Inputs     []string
	Outputs    []string
}

// Callback receives a command's Result once it has finished.
type Callback func(Result)

// CommandRunner is the capability the scheduler drives. Matching
// src/cmd/command_runner.h: Invoke only enqueues; RunCommands blocks until
// at least one completion callback has fired, running those callbacks
// synchronously on the calling goroutine.
type CommandRunner interface {
	Invoke(command string, pool string, cb Callback) error
	Size() int
	CanRunMore() bool
	RunCommands() error
}

// shellEscape quotes command for embedding inside a single-quoted shell -c
// argument, using the standard close-quote/backslash-quote/open-quote
// convention: each embedded "'" becomes "'\''" .
func shellEscape(command string) string {
	return "'" + strings.ReplaceAll(command, "'", `'\''`) + "'"
}

// wrapWithTracer rewrites command to run under tracerBinary, writing its
// trace artifact to tracePath.
func wrapWithTracer(tracerBinary, tracePath, command string) string {
	return fmt.Sprintf("%s -O -f %s -c %s", tracerBinary, shellEscape(tracePath), shellEscape(command))
}
