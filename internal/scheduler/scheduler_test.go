package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/invocationlog"
	"github.com/shurikenbuild/shuriken/internal/manifest"
	"github.com/shurikenbuild/shuriken/internal/planner"
	"github.com/shurikenbuild/shuriken/internal/tracerun"
)

// fakeRunner is a synchronous stand-in for a tracerun.CommandRunner: Invoke
// calls its callback immediately instead of spawning anything, so scheduler
// tests can drive the whole enqueue/commandDone pipeline without touching a
// real process.
type fakeRunner struct {
	onInvoke func(command, pool string) tracerun.Result
	calls    []string
}

func (f *fakeRunner) Invoke(command, pool string, cb tracerun.Callback) error {
	f.calls = append(f.calls, command)
	cb(f.onInvoke(command, pool))
	return nil
}

func (f *fakeRunner) Size() int          { return 0 }
func (f *fakeRunner) CanRunMore() bool   { return true }
func (f *fakeRunner) RunCommands() error { return nil }

var _ tracerun.CommandRunner = (*fakeRunner)(nil)

func buildSingleStepIndex(t *testing.T) *manifest.Index {
	t.Helper()
	idx, err := manifest.NewIndex(manifest.RawManifest{
		Steps: []manifest.RawStep{
			{Command: "compile", Outputs: []string{"out"}, Inputs: []string{"in"}},
		},
	})
	require.NoError(t, err)
	return idx
}

// TestSchedulerRunsDirtyStepAndLogsInvocation is S1 from spec.md §8: a
// minimal clean build of one step with no prior log entry runs the command
// once and records exactly one INVOCATION with fingerprints of its observed
// input and output.
func TestSchedulerRunsDirtyStepAndLogsInvocation(t *testing.T) {
	fs := fsx.NewMemory()
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("in", []byte("source")))

	idx := buildSingleStepIndex(t)
	clock := func() time.Time { return time.Unix(2000, 0) }

	build, err := planner.ComputeBuild(idx, invocationlog.NewInvocations(), idx.Roots)
	require.NoError(t, err)
	toRun, err := planner.DiscardCleanSteps(fs, build, invocationlog.NewInvocations())
	require.NoError(t, err)
	require.Equal(t, []manifest.StepIndex{0}, toRun)

	log, err := invocationlog.CreateFresh(fs, ".shk_log", clock)
	require.NoError(t, err)

	runner := &fakeRunner{onInvoke: func(command, pool string) tracerun.Result {
		require.Equal(t, "compile", command)
		require.NoError(t, fs.WriteFile("out", []byte("compiled")))
		return tracerun.Result{ExitStatus: tracerun.Success, Inputs: []string{"in"}, Outputs: []string{"out"}}
	}}

	sched, err := New(fs, clock, runner, log, idx, build, invocationlog.NewInvocations(), toRun, 1)
	require.NoError(t, err)

	result, err := sched.Run()
	require.NoError(t, err)
	require.Equal(t, Success, result)
	require.Len(t, runner.calls, 1)
	require.NoError(t, log.Close())

	parsed, err := invocationlog.Parse(fs, ".shk_log")
	require.NoError(t, err)
	entry, ok := parsed.Invocations.Entries[idx.Steps[0].Hash]
	require.True(t, ok)
	require.Len(t, entry.OutputFiles, 1)
	require.Len(t, entry.InputFiles, 1)
}

// TestSchedulerNoWorkToDoWhenNothingToRun mirrors S2: an empty toRun set
// (everything already clean) runs no commands and reports NO_WORK_TO_DO.
func TestSchedulerNoWorkToDoWhenNothingToRun(t *testing.T) {
	fs := fsx.NewMemory()
	idx := buildSingleStepIndex(t)
	clock := func() time.Time { return time.Unix(1, 0) }

	build, err := planner.ComputeBuild(idx, invocationlog.NewInvocations(), idx.Roots)
	require.NoError(t, err)

	log, err := invocationlog.CreateFresh(fs, ".shk_log", clock)
	require.NoError(t, err)

	runner := &fakeRunner{onInvoke: func(string, string) tracerun.Result {
		t.Fatal("no command should have been invoked")
		return tracerun.Result{}
	}}

	sched, err := New(fs, clock, runner, log, idx, build, invocationlog.NewInvocations(), nil, 1)
	require.NoError(t, err)

	result, err := sched.Run()
	require.NoError(t, err)
	require.Equal(t, NoWorkToDo, result)
}

// TestSchedulerFailureExhaustsBudgetAndReportsFailure checks the
// remaining-failures budget: with one allowed failure, a failing step
// uses up the budget and leaves the build as FAILURE without panicking on
// the drained queue.
func TestSchedulerFailureExhaustsBudgetAndReportsFailure(t *testing.T) {
	fs := fsx.NewMemory()
	require.NoError(t, fs.WriteFile("in", []byte("x")))
	idx := buildSingleStepIndex(t)
	clock := func() time.Time { return time.Unix(1, 0) }

	build, err := planner.ComputeBuild(idx, invocationlog.NewInvocations(), idx.Roots)
	require.NoError(t, err)
	toRun, err := planner.DiscardCleanSteps(fs, build, invocationlog.NewInvocations())
	require.NoError(t, err)

	log, err := invocationlog.CreateFresh(fs, ".shk_log", clock)
	require.NoError(t, err)

	runner := &fakeRunner{onInvoke: func(string, string) tracerun.Result {
		return tracerun.Result{ExitStatus: tracerun.Failure, Output: "boom"}
	}}

	sched, err := New(fs, clock, runner, log, idx, build, invocationlog.NewInvocations(), toRun, 1)
	require.NoError(t, err)

	result, err := sched.Run()
	require.NoError(t, err)
	require.Equal(t, Failure, result)
	require.Equal(t, 0, sched.remainingFailures)
}

// TestSchedulerDeleteStaleOutputsUnlinksAndMarksDeleted is S6: a log entry
// for a step hash no longer in the manifest has its outputs unlinked and a
// DELETED record written.
func TestSchedulerDeleteStaleOutputsUnlinksAndMarksDeleted(t *testing.T) {
	fs := fsx.NewMemory()
	require.NoError(t, fs.WriteFile("stale.o", []byte("old")))
	clock := func() time.Time { return time.Unix(1, 0) }

	idx, err := manifest.NewIndex(manifest.RawManifest{
		Steps: []manifest.RawStep{{Command: "fresh", Outputs: []string{"fresh.o"}}},
	})
	require.NoError(t, err)

	staleHash := fingerprint.Hash{0xAB}
	invocations := invocationlog.NewInvocations()
	invocations.Fingerprints = []invocationlog.PathFingerprint{{Path: "stale.o"}}
	invocations.Entries[staleHash] = invocationlog.Entry{OutputFiles: []int{0}}

	log, err := invocationlog.CreateFresh(fs, ".shk_log", clock)
	require.NoError(t, err)

	require.NoError(t, DeleteStaleOutputs(fs, log, idx, invocations))
	require.NoError(t, log.Close())

	_, err = fs.Lstat("stale.o")
	require.True(t, fsx.IsNotExist(err))

	parsed, err := invocationlog.Parse(fs, ".shk_log")
	require.NoError(t, err)
	_, stillPresent := parsed.Invocations.Entries[staleHash]
	require.False(t, stillPresent)
}

// TestPoolRunsSequentialInvocationsInFIFOOrder exercises component H with a
// runner that completes synchronously: in a pool of depth 1, "first"
// finishes and frees the slot before "second" is invoked, so neither is
// delayed and both run in the order they were invoked.
func TestPoolRunsSequentialInvocationsInFIFOOrder(t *testing.T) {
	var order []string
	inner := &fakeRunner{onInvoke: func(command, pool string) tracerun.Result {
		order = append(order, "ran:"+command)
		return tracerun.Result{ExitStatus: tracerun.Success}
	}}

	pool := NewPool(map[string]int{"build": 1}, inner)

	var secondDone bool
	require.NoError(t, pool.Invoke("first", "build", func(tracerun.Result) {
		order = append(order, "cb:first")
	}))
	require.NoError(t, pool.Invoke("second", "build", func(tracerun.Result) {
		secondDone = true
		order = append(order, "cb:second")
	}))

	// fakeRunner completes "first" inside its own Invoke call, which frees
	// the pool's only slot before Invoke("second") runs; assert that both
	// ran and that the invocation order is FIFO.
	require.True(t, secondDone)
	require.Equal(t, []string{"ran:first", "cb:first", "ran:second", "cb:second"}, order)
}

// TestPoolBlocksUndeclaredPoolForever documents the original's "undeclared
// pools have depth 0" behavior: a pool name never passed to NewPool never
// runs its delayed commands.
func TestPoolBlocksUndeclaredPoolForever(t *testing.T) {
	inner := &fakeRunner{onInvoke: func(string, string) tracerun.Result {
		t.Fatal("undeclared pool should never run")
		return tracerun.Result{}
	}}
	pool := NewPool(nil, inner)
	require.NoError(t, pool.Invoke("cmd", "undeclared", func(tracerun.Result) {}))
	require.Equal(t, 1, pool.Size())
}

// TestPoolConsoleDepthIsAlwaysOne checks the hard-coded console pool depth.
func TestPoolConsoleDepthIsAlwaysOne(t *testing.T) {
	inner := &fakeRunner{onInvoke: func(string, string) tracerun.Result {
		return tracerun.Result{ExitStatus: tracerun.Success}
	}}
	pool := NewPool(map[string]int{ConsolePool: 5}, inner)
	require.Equal(t, 1, pool.slots[ConsolePool])
}
