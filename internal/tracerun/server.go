package tracerun

import (
	"bufio"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TraceServerHandle lazily starts and health-checks the tracer helper
// process that individual invocations are rewritten to run under. Grounded
// on spec.md §4.G step 1: started on first use, health-checked via a single
// acknowledgement byte written to its stdout.
type TraceServerHandle struct {
	mu      sync.Mutex
	binary  string
	args    []string
	cmd     *exec.Cmd
	started bool
}

// NewTraceServerHandle returns a handle that will start binary (with args)
// the first time Ensure is called.
func NewTraceServerHandle(binary string, args ...string) *TraceServerHandle {
	return &TraceServerHandle{binary: binary, args: args}
}

// NewTraceServerHandleNoop returns a handle whose Ensure is always a no-op.
// Some tracer backends (e.g. a self-contained per-invocation wrapper with
// no standing daemon) need no server at all; tests against a fake tracer
// script use this to skip the readiness handshake entirely.
func NewTraceServerHandleNoop() *TraceServerHandle {
	return &TraceServerHandle{started: true}
}

// Ensure starts the trace server if it has not already been started, and
// blocks until its single readiness byte has been read from stdout.
func (h *TraceServerHandle) Ensure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}

	cmd := exec.Command(h.binary, h.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "tracerun: trace server stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "tracerun: trace server start")
	}

	reader := bufio.NewReader(stdout)
	ack := make([]byte, 1)
	if _, err := reader.Read(ack); err != nil {
		_ = cmd.Process.Kill()
		return errors.Wrap(err, "tracerun: trace server failed to acknowledge readiness")
	}

	h.cmd = cmd
	h.started = true
	logrus.WithField("binary", h.binary).Debug("trace server ready")
	return nil
}

// Stop terminates the trace server, if running.
func (h *TraceServerHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Kill()
	h.started = false
	return err
}
