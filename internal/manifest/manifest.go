// Package manifest builds the read-only, post-processed index the planner
// and scheduler walk: steps addressed by integer index, output/input path
// lookups, and the root/default step sets.
//
// Grounded on original_source/src/manifest/step.h and state.go (the
// manifest-index half of nin's State type, minus parsing: RawManifest here
// plays the role nin's already-parsed State.edges_/paths_ play after
// manifest_parser.go has run).
package manifest

import (
	"fmt"
	"path"
	"sort"

	"github.com/pkg/errors"
	"github.com/shurikenbuild/shuriken/internal/fingerprint"
)

// RawStep is one build step as handed to the core by whatever manifest
// front-end resolved it (out of scope for this package: see spec's
// Non-goals on manifest parsing/rule expansion).
type RawStep struct {
	Command        string
	Pool           string
	RspfileContent string
	RspfilePath    string
	Depfile        string
	Phony          bool
	Outputs        []string
	Inputs         []string
}

// RawManifest is the external interface contract this package consumes.
type RawManifest struct {
	Steps    []RawStep
	Defaults []string
	Pools    map[string]int
	BuildDir string
}

// Step is one build step as addressed by StepIndex elsewhere in the core.
type Step struct {
	Hash           fingerprint.Hash
	Command        string
	Pool           string
	RspfileContent string
	RspfilePath    string
	Depfile        string
	Phony          bool
	Outputs        []string
	Inputs         []string
	OutputDirs     []string
}

// StepIndex addresses a Step within an Index's Steps slice.
type StepIndex int

// Index is the immutable, post-processed manifest the planner and
// scheduler consume. Constructed once per build; never mutated afterward.
type Index struct {
	Steps         []Step
	OutputPathMap map[string]StepIndex
	InputPathMap  map[string]StepIndex
	Roots         []StepIndex
	Defaults      []StepIndex
	Pools         map[string]int
	BuildDir      string
}

// BuildError denotes a static problem with the manifest discovered before
// any command runs: a duplicate output, an undefined default target, and
// so on. It is always fatal to the whole build.
type BuildError struct {
	msg string
}

func (e *BuildError) Error() string { return e.msg }

func buildErrorf(format string, args ...interface{}) error {
	return &BuildError{msg: fmt.Sprintf(format, args...)}
}

// NewIndex builds an Index from a RawManifest: hashes each step, maps every
// output path to exactly one producing step (BuildError on collision),
// records the first step to declare each input (for error messages only),
// and computes the root set (steps nobody depends on).
func NewIndex(raw RawManifest) (*Index, error) {
	idx := &Index{
		Steps:         make([]Step, len(raw.Steps)),
		OutputPathMap: make(map[string]StepIndex, len(raw.Steps)),
		InputPathMap:  make(map[string]StepIndex),
		Pools:         raw.Pools,
		BuildDir:      raw.BuildDir,
	}

	for i, rs := range raw.Steps {
		step := Step{
			Command:        rs.Command,
			Pool:           rs.Pool,
			RspfileContent: rs.RspfileContent,
			RspfilePath:    rs.RspfilePath,
			Depfile:        rs.Depfile,
			Phony:          rs.Phony,
			Outputs:        append([]string(nil), rs.Outputs...),
			Inputs:         append([]string(nil), rs.Inputs...),
			OutputDirs:     outputDirs(rs.Outputs),
		}
		step.Hash = hashStep(step)
		idx.Steps[i] = step

		for _, out := range step.Outputs {
			if existing, ok := idx.OutputPathMap[out]; ok {
				return nil, errors.Wrap(buildErrorf(
					"multiple steps produce output %q (step %d and step %d)",
					out, existing, i), "manifest: index")
			}
			idx.OutputPathMap[out] = StepIndex(i)
		}
		for _, in := range step.Inputs {
			if _, ok := idx.InputPathMap[in]; !ok {
				idx.InputPathMap[in] = StepIndex(i)
			}
		}
	}

	idx.Roots = computeRoots(idx)

	defaults, err := resolveDefaults(idx, raw.Defaults)
	if err != nil {
		return nil, err
	}
	idx.Defaults = defaults

	return idx, nil
}

// outputDirs returns the deduplicated, sorted set of ancestor directories
// of outputs, mirroring compiled_manifest.cpp's output_dirs_set: the
// scheduler mkdir -p's each of these before invoking the step's command.
func outputDirs(outputs []string) []string {
	seen := map[string]bool{}
	for _, out := range outputs {
		dir := path.Dir(out)
		if dir == "." || dir == "/" {
			continue
		}
		seen[dir] = true
	}
	if len(seen) == 0 {
		return nil
	}
	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// computeRoots returns every step whose outputs are not consumed as an
// input by any other step — the steps nobody depends on, and thus the
// natural fallback build target set when the caller asks for neither an
// explicit target list nor relies on manifest defaults.
func computeRoots(idx *Index) []StepIndex {
	isDependedOn := make([]bool, len(idx.Steps))
	for _, step := range idx.Steps {
		for _, in := range step.Inputs {
			if producer, ok := idx.OutputPathMap[in]; ok {
				isDependedOn[producer] = true
			}
		}
	}
	var roots []StepIndex
	for i, dependedOn := range isDependedOn {
		if !dependedOn {
			roots = append(roots, StepIndex(i))
		}
	}
	return roots
}

func resolveDefaults(idx *Index, defaultPaths []string) ([]StepIndex, error) {
	defaults := make([]StepIndex, 0, len(defaultPaths))
	for _, p := range defaultPaths {
		si, ok := idx.OutputPathMap[p]
		if !ok {
			return nil, buildErrorf("default target %q is not produced by any step", p)
		}
		defaults = append(defaults, si)
	}
	return defaults, nil
}

// hashStep folds everything that changes a step's execution semantics into
// its Hash: command, rspfile content and path, pool name, and the set of
// output paths (sorted is unnecessary — output order is part of the
// manifest's own determinism contract). Any change here invalidates every
// invocation log entry for the step, by design (spec.md §4.D).
func hashStep(step Step) fingerprint.Hash {
	h := newStepHasher()
	h.writeString(step.Command)
	h.writeString(step.RspfileContent)
	h.writeString(step.RspfilePath)
	h.writeString(step.Pool)
	for _, out := range step.Outputs {
		h.writeString(out)
	}
	return h.sum()
}
