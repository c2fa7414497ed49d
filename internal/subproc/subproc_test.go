package subproc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunnerDeliversSuccess(t *testing.T) {
	r := NewRunner()
	var mu sync.Mutex
	var got Result
	require.NoError(t, r.Invoke("exit 0", false, func(res Result) {
		mu.Lock()
		got = res
		mu.Unlock()
	}))

	require.NoError(t, r.RunCommands())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, Success, got.ExitStatus)
}

func TestRunnerDeliversFailure(t *testing.T) {
	r := NewRunner()
	var mu sync.Mutex
	var got Result
	require.NoError(t, r.Invoke("exit 3", false, func(res Result) {
		mu.Lock()
		got = res
		mu.Unlock()
	}))

	require.NoError(t, r.RunCommands())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, Failure, got.ExitStatus)
}

func TestRunnerCapturesCombinedOutput(t *testing.T) {
	r := NewRunner()
	var mu sync.Mutex
	var got Result
	require.NoError(t, r.Invoke("echo hello; echo world 1>&2", false, func(res Result) {
		mu.Lock()
		got = res
		mu.Unlock()
	}))

	require.NoError(t, r.RunCommands())

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, got.Output, "hello")
	require.Contains(t, got.Output, "world")
}

func TestRunnerDrainsMultipleReadyCompletionsInOneCall(t *testing.T) {
	r := NewRunner()
	done := make(chan struct{}, 2)
	require.NoError(t, r.Invoke("exit 0", false, func(Result) { done <- struct{}{} }))
	require.NoError(t, r.Invoke("exit 0", false, func(Result) { done <- struct{}{} }))

	// Wait until both children have exited, so that a single RunCommands
	// call finds both completions already queued.
	require.Eventually(t, func() bool { return len(r.done) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, r.RunCommands())

	<-done
	<-done
	require.Equal(t, 0, r.Size())
}

func TestSizeTracksInFlightCommands(t *testing.T) {
	r := NewRunner()
	blockDone := make(chan struct{})
	require.NoError(t, r.Invoke("sleep 0.2", false, func(Result) { close(blockDone) }))
	require.Equal(t, 1, r.Size())

	require.NoError(t, r.RunCommands())
	require.Equal(t, 0, r.Size())
	<-blockDone
}
