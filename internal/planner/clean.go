package planner

import (
	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/invocationlog"
	"github.com/shurikenbuild/shuriken/internal/manifest"
)

// CleanResult is the outcome of IsClean for one step.
type CleanResult struct {
	Clean        bool
	ShouldUpdate bool
}

// cleanMemo caches IsClean results per step for one planning pass. Steps
// are frequently reachable from more than one dependent, and re-stat'ing
// every file on every visit would be wasteful (spec.md §4.E "memoized
// fingerprintMatches").
type cleanMemo struct {
	results map[manifest.StepIndex]CleanResult
}

func newCleanMemo() *cleanMemo {
	return &cleanMemo{results: map[manifest.StepIndex]CleanResult{}}
}

// IsClean reports whether step si's outputs and inputs still match the
// fingerprints recorded the last time it ran. Absent a log entry, a step
// is never clean — it has simply never been observed to run successfully.
// On success, IsClean short-circuits at the first dirty file: there is no
// need to keep checking once the step is already known to need a rebuild.
func IsClean(fs fsx.FileSystem, idx *manifest.Index, invocations invocationlog.Invocations, memo *cleanMemo, si manifest.StepIndex) (CleanResult, error) {
	if cached, ok := memo.results[si]; ok {
		return cached, nil
	}

	step := idx.Steps[si]
	entry, ok := invocations.Entries[step.Hash]
	if !ok {
		res := CleanResult{Clean: false}
		memo.results[si] = res
		return res, nil
	}

	shouldUpdate := false
	for _, group := range [2][]int{entry.OutputFiles, entry.InputFiles} {
		for _, idx := range group {
			pf := invocations.Fingerprints[idx]
			m, err := fingerprint.Matches(fs, pf.Path, pf.Fingerprint)
			if err != nil {
				return CleanResult{}, err
			}
			if !m.Clean {
				res := CleanResult{Clean: false}
				memo.results[si] = res
				return res, nil
			}
			if m.ShouldUpdate {
				shouldUpdate = true
			}
		}
	}

	res := CleanResult{Clean: true, ShouldUpdate: shouldUpdate}
	memo.results[si] = res
	return res, nil
}

// ComputeCleanSteps evaluates IsClean for every should-build step in b,
// independent of whether the step is reachable from the ready front during
// DiscardCleanSteps's BFS. A step behind a dirty dependency is never visited
// by that BFS (its dependency count never reaches zero until the real build
// runs), yet the scheduler still needs to know whether it was clean against
// the file state at the *start* of the build, to decide at the moment it
// actually becomes ready whether the step that produced its inputs wrote
// byte-identical content (canSkipBuildCommand, spec.md §4.F step 1).
//
// Grounded on original_source/src/build.cpp's computeCleanSteps, which
// builds this same snapshot before discardCleanSteps ever runs.
func ComputeCleanSteps(fs fsx.FileSystem, idx *manifest.Index, invocations invocationlog.Invocations, b *Build) (map[manifest.StepIndex]CleanResult, error) {
	memo := newCleanMemo()
	results := make(map[manifest.StepIndex]CleanResult, len(b.States))
	for si := range b.States {
		res, err := IsClean(fs, idx, invocations, memo, si)
		if err != nil {
			return nil, err
		}
		results[si] = res
	}
	return results, nil
}

// RelogStep re-fingerprints every file recorded in step si's invocation log
// entry and re-persists a fresh INVOCATION record for it, promoting a
// racily-clean fingerprint to stable-clean so a future build can skip
// rehashing it. Called by the scheduler after ComputeCleanSteps reports
// ShouldUpdate for an already-clean step (spec.md §4.E step 3).
//
// Grounded on original_source/src/build.cpp's relogCommand.
func RelogStep(fs fsx.FileSystem, log *invocationlog.Log, idx *manifest.Index, invocations invocationlog.Invocations, si manifest.StepIndex) error {
	step := idx.Steps[si]
	entry, ok := invocations.Entries[step.Hash]
	if !ok {
		return nil
	}

	refresh := func(idxs []int) ([]invocationlog.PathFingerprint, error) {
		out := make([]invocationlog.PathFingerprint, len(idxs))
		for i, fi := range idxs {
			path := invocations.Fingerprints[fi].Path
			fp, _, err := log.Fingerprint(fs, path)
			if err != nil {
				return nil, err
			}
			out[i] = invocationlog.PathFingerprint{Path: path, Fingerprint: fp}
		}
		return out, nil
	}

	outputs, err := refresh(entry.OutputFiles)
	if err != nil {
		return err
	}
	inputs, err := refresh(entry.InputFiles)
	if err != nil {
		return err
	}
	return log.RanCommand(step.Hash, outputs, inputs)
}

// DiscardCleanSteps walks the build's ready front via BFS and removes every
// step that is already clean, or phony, from the set the scheduler must
// actually execute — propagating "done" to dependents exactly as a real
// completion would, so phony rules are never executed, only propagated.
func DiscardCleanSteps(fs fsx.FileSystem, b *Build, invocations invocationlog.Invocations) ([]manifest.StepIndex, error) {
	memo := newCleanMemo()
	idx := b.Index

	queue := append([]manifest.StepIndex(nil), b.Ready...)
	var toRun []manifest.StepIndex
	visited := make(map[manifest.StepIndex]bool)

	markDone := func(si manifest.StepIndex, queue []manifest.StepIndex) []manifest.StepIndex {
		state := b.States[si]
		for _, dependent := range state.Dependents {
			depState := b.States[dependent]
			depState.DependenciesRemaining--
			if depState.DependenciesRemaining == 0 {
				queue = append(queue, dependent)
			}
		}
		return queue
	}

	for len(queue) > 0 {
		si := queue[0]
		queue = queue[1:]
		if visited[si] {
			continue
		}
		visited[si] = true

		step := idx.Steps[si]
		if step.Phony {
			queue = markDone(si, queue)
			continue
		}

		res, err := IsClean(fs, idx, invocations, memo, si)
		if err != nil {
			return nil, err
		}
		if res.Clean {
			queue = markDone(si, queue)
			continue
		}

		toRun = append(toRun, si)
	}

	return toRun, nil
}
