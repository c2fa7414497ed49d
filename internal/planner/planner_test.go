package planner

import (
	"testing"
	"time"

	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/invocationlog"
	"github.com/shurikenbuild/shuriken/internal/manifest"
	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T) *manifest.Index {
	t.Helper()
	idx, err := manifest.NewIndex(manifest.RawManifest{
		Steps: []manifest.RawStep{
			{Command: "cc -c a.c -o a.o", Outputs: []string{"a.o"}, Inputs: []string{"a.c"}},
			{Command: "ld a.o -o app", Outputs: []string{"app"}, Inputs: []string{"a.o"}},
		},
	})
	require.NoError(t, err)
	return idx
}

func TestComputeStepsToBuildFallsBackToRoots(t *testing.T) {
	idx := buildIndex(t)
	steps, err := ComputeStepsToBuild(idx, nil)
	require.NoError(t, err)
	require.Equal(t, []manifest.StepIndex{1}, steps)
}

func TestComputeStepsToBuildUnknownTargetIsBuildError(t *testing.T) {
	idx := buildIndex(t)
	_, err := ComputeStepsToBuild(idx, []string{"nope"})
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
}

func TestComputeBuildWalksDependencies(t *testing.T) {
	idx := buildIndex(t)
	b, err := ComputeBuild(idx, invocationlog.NewInvocations(), []manifest.StepIndex{1})
	require.NoError(t, err)
	require.True(t, b.States[0].ShouldBuild)
	require.True(t, b.States[1].ShouldBuild)
	require.Equal(t, []manifest.StepIndex{0}, b.Ready)
}

func TestComputeBuildDetectsCycle(t *testing.T) {
	idx, err := manifest.NewIndex(manifest.RawManifest{
		Steps: []manifest.RawStep{
			{Command: "one", Outputs: []string{"a"}, Inputs: []string{"b"}},
			{Command: "two", Outputs: []string{"b"}, Inputs: []string{"a"}},
		},
	})
	require.NoError(t, err)

	_, err = ComputeBuild(idx, invocationlog.NewInvocations(), []manifest.StepIndex{0})
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
}

func TestVisitStepInputsPrefersLogObservedOverManifest(t *testing.T) {
	idx, err := manifest.NewIndex(manifest.RawManifest{
		Steps: []manifest.RawStep{
			{Command: "gen", Outputs: []string{"extra.h"}},
			{Command: "cc", Outputs: []string{"a.o"}, Inputs: []string{"a.c"}},
		},
	})
	require.NoError(t, err)

	invocations := invocationlog.NewInvocations()
	invocations.Fingerprints = []invocationlog.PathFingerprint{
		{Path: "extra.h"},
	}
	invocations.Entries[idx.Steps[1].Hash] = invocationlog.Entry{InputFiles: []int{0}}

	inputs := visitStepInputs(idx, invocations, 1)
	require.Equal(t, []string{"extra.h"}, inputs)
}

func TestIsCleanDirtyWithoutLogEntry(t *testing.T) {
	idx := buildIndex(t)
	fs := fsx.NewMemory()
	res, err := IsClean(fs, idx, invocationlog.NewInvocations(), newCleanMemo(), 0)
	require.NoError(t, err)
	require.False(t, res.Clean)
}

func TestIsCleanCleanWhenFingerprintsMatch(t *testing.T) {
	idx := buildIndex(t)
	fs := fsx.NewMemory()
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("a.c", []byte("int main(){}")))
	require.NoError(t, fs.WriteFile("a.o", []byte("obj")))

	clock := func() time.Time { return time.Unix(1005, 0) }
	outFP, err := fingerprint.Take(fs, clock, "a.o")
	require.NoError(t, err)
	inFP, err := fingerprint.Take(fs, clock, "a.c")
	require.NoError(t, err)

	invocations := invocationlog.NewInvocations()
	invocations.Fingerprints = []invocationlog.PathFingerprint{
		{Path: "a.o", Fingerprint: outFP},
		{Path: "a.c", Fingerprint: inFP},
	}
	invocations.Entries[idx.Steps[0].Hash] = invocationlog.Entry{OutputFiles: []int{0}, InputFiles: []int{1}}

	res, err := IsClean(fs, idx, invocations, newCleanMemo(), 0)
	require.NoError(t, err)
	require.True(t, res.Clean)
}

func TestDiscardCleanStepsKeepsDirtyAndDropsClean(t *testing.T) {
	idx := buildIndex(t)
	fs := fsx.NewMemory()
	fs.SetTime(time.Unix(1000, 0))
	require.NoError(t, fs.WriteFile("a.c", []byte("int main(){}")))
	require.NoError(t, fs.WriteFile("a.o", []byte("obj")))

	clock := func() time.Time { return time.Unix(1005, 0) }
	outFP, err := fingerprint.Take(fs, clock, "a.o")
	require.NoError(t, err)
	inFP, err := fingerprint.Take(fs, clock, "a.c")
	require.NoError(t, err)

	invocations := invocationlog.NewInvocations()
	invocations.Fingerprints = []invocationlog.PathFingerprint{
		{Path: "a.o", Fingerprint: outFP},
		{Path: "a.c", Fingerprint: inFP},
	}
	invocations.Entries[idx.Steps[0].Hash] = invocationlog.Entry{OutputFiles: []int{0}, InputFiles: []int{1}}
	// Step 1 (ld) has never run: no log entry, stays dirty.

	b, err := ComputeBuild(idx, invocations, []manifest.StepIndex{1})
	require.NoError(t, err)

	toRun, err := DiscardCleanSteps(fs, b, invocations)
	require.NoError(t, err)
	require.Equal(t, []manifest.StepIndex{1}, toRun)
}

func TestDiscardCleanStepsDoesNotReachPhonyBehindDirtyStep(t *testing.T) {
	idx, err := manifest.NewIndex(manifest.RawManifest{
		Steps: []manifest.RawStep{
			{Command: "cc", Outputs: []string{"a.o"}, Inputs: []string{"a.c"}},
			{Phony: true, Outputs: []string{"all"}, Inputs: []string{"a.o"}},
		},
	})
	require.NoError(t, err)

	fs := fsx.NewMemory()
	require.NoError(t, fs.WriteFile("a.c", []byte("x")))
	// a.o was never produced: step 0 is dirty and stays in toRun. Step 1
	// (phony) still waits on it, so the BFS never reaches it and it is not
	// in toRun either.

	b, err := ComputeBuild(idx, invocationlog.NewInvocations(), []manifest.StepIndex{1})
	require.NoError(t, err)

	toRun, err := DiscardCleanSteps(fs, b, invocationlog.NewInvocations())
	require.NoError(t, err)
	require.Equal(t, []manifest.StepIndex{0}, toRun)
}
