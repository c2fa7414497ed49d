// Package planner builds the build DAG from a manifest.Index, detects
// dependency cycles, and decides which reached steps are already clean.
//
// Grounded on original_source/src/build.cpp's visitStepInputs/isClean/
// discardCleanSteps pipeline, adapted to Go's explicit-error idiom in place
// of C++ exceptions for BuildError conditions (cycles, undefined targets).
package planner

import (
	"fmt"
	"strings"

	"github.com/shurikenbuild/shuriken/internal/invocationlog"
	"github.com/shurikenbuild/shuriken/internal/manifest"
)

// BuildError denotes a static problem discovered while planning: an
// undefined requested target, or a dependency cycle. Always fatal, always
// discovered before any command runs.
type BuildError struct {
	msg string
}

func (e *BuildError) Error() string { return e.msg }

func buildErrorf(format string, args ...interface{}) error {
	return &BuildError{msg: fmt.Sprintf(format, args...)}
}

// StepState is one node's bookkeeping within a Build.
type StepState struct {
	ShouldBuild           bool
	Dependents            []manifest.StepIndex
	DependenciesRemaining int
}

// Build is the DAG computed for one build invocation: the subset of the
// manifest's steps actually reached from the requested targets, with
// dependency bookkeeping, ready to be handed to the scheduler.
type Build struct {
	Index  *manifest.Index
	States map[manifest.StepIndex]*StepState
	Ready  []manifest.StepIndex
}

// ComputeStepsToBuild resolves the user-requested target list (by output
// path) into step indices, falling back to manifest defaults, then to the
// manifest's root set. An unrecognized requested path is a BuildError.
func ComputeStepsToBuild(idx *manifest.Index, requested []string) ([]manifest.StepIndex, error) {
	if len(requested) > 0 {
		steps := make([]manifest.StepIndex, 0, len(requested))
		for _, target := range requested {
			si, ok := idx.OutputPathMap[target]
			if !ok {
				return nil, buildErrorf("unknown build target: %q", target)
			}
			steps = append(steps, si)
		}
		return steps, nil
	}
	if len(idx.Defaults) > 0 {
		return idx.Defaults, nil
	}
	return idx.Roots, nil
}

// visitState tracks the DFS coloring for cycle detection.
type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// ComputeBuild runs a DFS from each requested step, building the DAG of
// everything that must be considered, detecting cycles, and switching
// between manifest-declared and log-observed inputs per step exactly as
// build.cpp's visitStepInputs does: a step with an invocation log entry
// trusts only what it actually read last time; a step with no entry yet
// trusts the manifest.
func ComputeBuild(idx *manifest.Index, invocations invocationlog.Invocations, requested []manifest.StepIndex) (*Build, error) {
	b := &Build{
		Index:  idx,
		States: make(map[manifest.StepIndex]*StepState),
	}
	colors := make([]visitState, len(idx.Steps))
	var stack []manifest.StepIndex

	var visit func(si manifest.StepIndex) error
	visit = func(si manifest.StepIndex) error {
		switch colors[si] {
		case visited:
			return nil
		case visiting:
			return buildErrorf("dependency cycle: %s", formatCycle(idx, stack, si))
		}

		colors[si] = visiting
		stack = append(stack, si)

		state := b.stateFor(si)
		state.ShouldBuild = true

		for _, in := range visitStepInputs(idx, invocations, si) {
			producer, ok := idx.OutputPathMap[in]
			if !ok {
				continue // not a build-produced file; a source input.
			}
			if err := visit(producer); err != nil {
				return err
			}
			producerState := b.stateFor(producer)
			producerState.Dependents = append(producerState.Dependents, si)
			state.DependenciesRemaining++
		}

		stack = stack[:len(stack)-1]
		colors[si] = visited
		return nil
	}

	for _, si := range requested {
		if err := visit(si); err != nil {
			return nil, err
		}
	}

	for si, state := range b.States {
		if state.DependenciesRemaining == 0 {
			b.Ready = append(b.Ready, si)
		}
	}

	return b, nil
}

func (b *Build) stateFor(si manifest.StepIndex) *StepState {
	if s, ok := b.States[si]; ok {
		return s
	}
	s := &StepState{}
	b.States[si] = s
	return s
}

// visitStepInputs returns the effective inputs for step si: the log's
// observed inputs if an entry exists for the step's hash, else the
// manifest-declared inputs. This is the central departure from Ninja's
// purely-declarative dependency model (spec.md §4.E).
func visitStepInputs(idx *manifest.Index, invocations invocationlog.Invocations, si manifest.StepIndex) []string {
	step := idx.Steps[si]
	entry, ok := invocations.Entries[step.Hash]
	if !ok {
		return step.Inputs
	}
	inputs := make([]string, len(entry.InputFiles))
	for i, fpIdx := range entry.InputFiles {
		inputs[i] = invocations.Fingerprints[fpIdx].Path
	}
	return inputs
}

// formatCycle renders the DFS path stack as "a -> b -> c -> a", reporting
// the first cycle discovered with no further guessing (spec.md §4.E).
func formatCycle(idx *manifest.Index, stack []manifest.StepIndex, closing manifest.StepIndex) string {
	start := 0
	for i, si := range stack {
		if si == closing {
			start = i
			break
		}
	}
	names := make([]string, 0, len(stack)-start+1)
	for _, si := range stack[start:] {
		names = append(names, stepLabel(idx.Steps[si]))
	}
	names = append(names, stepLabel(idx.Steps[closing]))
	return strings.Join(names, " -> ")
}

func stepLabel(step manifest.Step) string {
	if len(step.Outputs) > 0 {
		return step.Outputs[0]
	}
	return step.Command
}
