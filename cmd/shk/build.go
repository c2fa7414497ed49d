package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shurikenbuild/shuriken/internal/config"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/invocationlog"
	"github.com/shurikenbuild/shuriken/internal/manifest"
	"github.com/shurikenbuild/shuriken/internal/planner"
	"github.com/shurikenbuild/shuriken/internal/scheduler"
	"github.com/shurikenbuild/shuriken/internal/tracerun"
)

const logFileName = ".shk_log"

var buildFlags struct {
	manifestPath string
	parallelism  int
	failures     int
	tracer       string
}

var buildCommand = &cobra.Command{
	Use:   "build [targets...]",
	Short: "Build the requested targets, or the manifest's defaults/roots if none are given.",
	RunE:  runBuild,
}

func init() {
	wireBuildFlags(buildCommand.Flags())
	// Also wire onto the root command so a bare `shk` invocation (no
	// subcommand, matching Ninja's "building is the default action") picks
	// up the same flags.
	wireBuildFlags(rootCommand.Flags())
}

func wireBuildFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&buildFlags.manifestPath, "file", "f", "build.shk.json", "manifest file to build")
	flags.IntVarP(&buildFlags.parallelism, "jobs", "j", 0, "run N jobs in parallel (0 means unlimited, subject to pools)")
	flags.IntVarP(&buildFlags.failures, "keep-going", "k", 0, "keep going until N jobs fail (0 means use the configured default)")
	flags.StringVar(&buildFlags.tracer, "tracer", "", "tracer binary to run commands under (overrides .shkconfig.yaml)")
}

func runBuild(cmd *cobra.Command, targets []string) error {
	if err := applyChdir(); err != nil {
		return errors.Wrap(err, "shk: chdir")
	}
	configureLogging()

	cfg, err := config.Load(config.DefaultFileName)
	if err != nil {
		return err
	}
	if buildFlags.tracer != "" {
		cfg.TracerBinary = buildFlags.tracer
	}
	failuresAllowed := buildFlags.failures
	if failuresAllowed == 0 {
		failuresAllowed = cfg.FailuresAllowed
	}

	rawManifest, err := loadManifest(buildFlags.manifestPath)
	if err != nil {
		return err
	}
	rawManifest.Pools = cfg.MergePools(rawManifest.Pools)

	idx, err := manifest.NewIndex(rawManifest)
	if err != nil {
		return err
	}

	fs := fsx.NewReal()
	clock := time.Now

	parsed, err := invocationlog.Parse(fs, logFileName)
	if err != nil {
		return err
	}
	if err := parsed.ResolveCreatedDirectories(fs); err != nil {
		return err
	}
	invocations := parsed.Invocations

	log, err := invocationlog.Open(fs, logFileName, parsed.PathIDs, parsed.EntryCount, clock)
	if err != nil {
		return err
	}
	defer func() { log.Close() }()

	if err := scheduler.DeleteStaleOutputs(fs, log, idx, invocations); err != nil {
		return err
	}

	if parsed.NeedsRecompaction {
		if err := invocationlog.Recompact(fs, invocations, logFileName, clock); err != nil {
			return err
		}
		log.Close()
		reparsed, err := invocationlog.Parse(fs, logFileName)
		if err != nil {
			return err
		}
		log, err = invocationlog.Open(fs, logFileName, reparsed.PathIDs, reparsed.EntryCount, clock)
		if err != nil {
			return err
		}
	}

	requested, err := planner.ComputeStepsToBuild(idx, targets)
	if err != nil {
		return err
	}
	build, err := planner.ComputeBuild(idx, invocations, requested)
	if err != nil {
		return err
	}
	toRun, err := planner.DiscardCleanSteps(fs, build, invocations)
	if err != nil {
		return err
	}

	traceDir, err := ephemeralTraceDir()
	if err != nil {
		return err
	}
	defer os.RemoveAll(traceDir)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	server := tracerun.NewTraceServerHandle(cfg.TracerBinary)
	runner := tracerun.NewTracingCommandRunner(fs, server, cfg.TracerBinary, traceDir, cwd)
	runner.SetMaxParallel(buildFlags.parallelism)
	pooled := scheduler.NewPool(idx.Pools, runner)
	defer server.Stop()

	sched, err := scheduler.New(fs, clock, pooled, log, idx, build, invocations, toRun, failuresAllowed)
	if err != nil {
		return err
	}

	result, err := sched.Run()
	if err != nil {
		color.Red("shk: build stopped: %v\n", err)
		return err
	}

	switch result {
	case scheduler.Success:
		fmt.Println("shk: build succeeded")
	case scheduler.NoWorkToDo:
		fmt.Println("shk: nothing to do")
	case scheduler.Interrupted:
		color.Yellow("shk: build interrupted\n")
		return errors.New("shk: build interrupted")
	case scheduler.Failure:
		color.Red("shk: build failed\n")
		return errors.New("shk: build failed")
	}
	return nil
}

// ephemeralTraceDir creates a per-build scratch directory for trace
// artifacts, suffixed with a random UUID so concurrent shk invocations in
// the same tree never collide on a trace file path.
func ephemeralTraceDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "shk-trace-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "shk: creating trace scratch directory")
	}
	return dir, nil
}
