// Package config loads Shuriken's optional tool configuration file,
// .shkconfig.yaml: default pool depths, the default failure budget, the
// tracer binary, and an ignored-path list. This is tool configuration, not build-manifest parsing — the
// manifest itself stays out of scope per spec.md's Non-goals.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file Load looks for relative to the
// directory the build runs from, unless the caller overrides the path.
const DefaultFileName = ".shkconfig.yaml"

// Config is the parsed shape of .shkconfig.yaml. Every field is optional;
// a missing file or a field absent from it falls back to Default.
type Config struct {
	// Pools maps pool name to concurrency depth, merged into the manifest's
	// own Pools map (manifest values win on conflict — the build file is
	// more specific than the tool-wide default).
	Pools map[string]int `yaml:"pools"`

	// FailuresAllowed is the default -k budget when the CLI flag is left at
	// its zero value.
	FailuresAllowed int `yaml:"failures_allowed"`

	// IgnoredPaths is parsed from the file but not read by anything else:
	// internal/tracerun's filterInputs uses only its own built-in list.
	IgnoredPaths []string `yaml:"ignored_paths"`

	// TracerBinary overrides the default tracer executable name looked up
	// on PATH.
	TracerBinary string `yaml:"tracer_binary"`
}

// Default is the configuration a build uses when no .shkconfig.yaml exists.
func Default() Config {
	return Config{
		FailuresAllowed: 1,
		TracerBinary:    "shk-trace",
	}
}

// Load reads and parses the config file at path. A missing file is not an
// error — it returns Default() unchanged, matching spec.md's tool-config
// semantics ("optional .shkconfig.yaml").
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: reading %s", path)
	}

	// Preserve the defaults for any field the file doesn't set by
	// unmarshaling onto the already-populated Config rather than a bare
	// zero value.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: parsing %s", path)
	}
	return cfg, nil
}

// MergePools layers manifestPools on top of c.Pools, the manifest's own
// pool declarations taking precedence over the tool-wide defaults.
func (c Config) MergePools(manifestPools map[string]int) map[string]int {
	merged := make(map[string]int, len(c.Pools)+len(manifestPools))
	for name, depth := range c.Pools {
		merged[name] = depth
	}
	for name, depth := range manifestPools {
		merged[name] = depth
	}
	return merged
}
