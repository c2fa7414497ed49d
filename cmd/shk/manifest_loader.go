package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/shurikenbuild/shuriken/internal/manifest"
)

// jsonManifest is the on-disk shape loadManifest reads. Parsing Ninja's own
// build-file syntax (rules, variable expansion, build-dir-relative paths,
// implicit/order-only dependency markers) is explicitly out of scope for
// the core (spec.md's Non-goals); this loader is the minimal front end
// needed to exercise the core end to end, and the seam any future
// Ninja-syntax parser would plug into — it only has to produce a
// manifest.RawManifest.
type jsonManifest struct {
	BuildDir string                `json:"build_dir"`
	Defaults []string              `json:"defaults"`
	Pools    map[string]int        `json:"pools"`
	Steps    []jsonManifestRawStep `json:"steps"`
}

type jsonManifestRawStep struct {
	Command        string   `json:"command"`
	Pool           string   `json:"pool"`
	RspfileContent string   `json:"rspfile_content"`
	RspfilePath    string   `json:"rspfile_path"`
	Depfile        string   `json:"depfile"`
	Phony          bool     `json:"phony"`
	Outputs        []string `json:"outputs"`
	Inputs         []string `json:"inputs"`
}

// loadManifest reads a JSON-encoded manifest from path into the shape
// internal/manifest.NewIndex consumes.
func loadManifest(path string) (manifest.RawManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.RawManifest{}, errors.Wrapf(err, "shk: reading manifest %s", path)
	}

	var jm jsonManifest
	if err := json.Unmarshal(data, &jm); err != nil {
		return manifest.RawManifest{}, errors.Wrapf(err, "shk: parsing manifest %s", path)
	}

	raw := manifest.RawManifest{
		BuildDir: jm.BuildDir,
		Defaults: jm.Defaults,
		Pools:    jm.Pools,
		Steps:    make([]manifest.RawStep, len(jm.Steps)),
	}
	for i, s := range jm.Steps {
		raw.Steps[i] = manifest.RawStep{
			Command:        s.Command,
			Pool:           s.Pool,
			RspfileContent: s.RspfileContent,
			RspfilePath:    s.RspfilePath,
			Depfile:        s.Depfile,
			Phony:          s.Phony,
			Outputs:        s.Outputs,
			Inputs:         s.Inputs,
		}
	}
	return raw, nil
}
