package tracerun

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// TraceInput is one observed read, with a flag for "ignore me if I turned
// out to be a directory" — tracers report every path opened regardless of
// kind, and directory reads (e.g. readdir on a parent during lookup) are
// noise the planner shouldn't treat as a real dependency.
type TraceInput struct {
	Path        string `json:"path"`
	IgnoreIfDir bool   `json:"ignore_if_dir"`
}

// Artifact is the typed record the external tracer process writes per
// invocation: every path the command read, every path it wrote, and any
// errors the tracer itself encountered while observing (e.g. an
// unsupported syscall). Grounded on spec.md §4.G / §6's trace artifact
// contract.
type Artifact struct {
	Inputs  []TraceInput `json:"inputs"`
	Outputs []string     `json:"outputs"`
	Errors  []string     `json:"errors"`
}

// decodeArtifact parses the trace artifact written to tracePath. JSON is
// the wire format the external tracer helper emits; no ecosystem binary
// framing library in the pack is a better fit for a one-shot structured
// record than stdlib encoding/json, which is what the artifact's only
// producer (the external tracer binary) also uses.
func decodeArtifact(data []byte) (Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, errors.Wrap(err, "tracerun: decode trace artifact")
	}
	return a, nil
}

// ignoredPaths are well-known process-state paths that show up as reads in
// almost every trace but never constitute a real build dependency.
var ignoredPaths = map[string]bool{
	"/dev/null":      true,
	"/AppleInternal": true,
}

// filterInputs drops ignored paths and any directory read of cwd, per
// spec.md §4.G step 6 / §6 "the scheduler tolerates the current working
// directory appearing in trace inputs/outputs and strips it from inputs".
// IgnoreIfDir is not consulted: such inputs are kept whether or not they
// are directories.
func filterInputs(inputs []TraceInput, cwd string) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if ignoredPaths[in.Path] {
			continue
		}
		if in.Path == cwd {
			continue
		}
		out = append(out, in.Path)
	}
	return out
}
