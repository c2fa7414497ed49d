package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/invocationlog"
)

var recompactCommand = &cobra.Command{
	Use:   "recompact",
	Short: "Rewrite the invocation log, dropping superseded records.",
	RunE:  runRecompact,
}

func runRecompact(cmd *cobra.Command, args []string) error {
	if err := applyChdir(); err != nil {
		return err
	}
	configureLogging()

	fs := fsx.NewReal()
	parsed, err := invocationlog.Parse(fs, logFileName)
	if err != nil {
		return err
	}
	if err := parsed.ResolveCreatedDirectories(fs); err != nil {
		return err
	}

	before := parsed.EntryCount
	if err := invocationlog.Recompact(fs, parsed.Invocations, logFileName, time.Now); err != nil {
		return err
	}

	fmt.Printf("shk: recompacted log: %d records -> %d live entries\n", before, len(parsed.Invocations.Entries)+len(parsed.Invocations.CreatedDirectories))
	return nil
}
