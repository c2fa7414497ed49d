// Command shk is the thin CLI entrypoint that wires the core packages
// (manifest, planner, scheduler, tracerun) into something runnable: load a
// manifest, plan a build, drive it through the tracing command runner, and
// report the outcome. Grounded on the teacher's cmd/nin entrypoint shape
// and mutagen's package-level cobra.Command + init()-wired-flags style.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	chdir   string
	verbose bool
}

var rootCommand = &cobra.Command{
	Use:           "shk",
	Short:         "Shuriken: a content-hash based, correct-by-construction build executor.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBuild,
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVarP(&rootFlags.chdir, "chdir", "C", "", "change to DIR before doing anything else")
	flags.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "show debug-level logging")

	rootCommand.AddCommand(buildCommand, cleanCommand, recompactCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shk: %v\n", err)
		os.Exit(1)
	}
}

func applyChdir() error {
	if rootFlags.chdir == "" {
		return nil
	}
	return os.Chdir(rootFlags.chdir)
}

func configureLogging() {
	if rootFlags.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
}
