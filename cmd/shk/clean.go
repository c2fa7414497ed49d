package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/invocationlog"
	"github.com/shurikenbuild/shuriken/internal/manifest"
)

var cleanFlags struct {
	manifestPath string
}

var cleanCommand = &cobra.Command{
	Use:   "clean",
	Short: "Remove every output and rspfile the manifest declares.",
	RunE:  runClean,
}

func init() {
	cleanCommand.Flags().StringVarP(&cleanFlags.manifestPath, "file", "f", "build.shk.json", "manifest file")
}

func runClean(cmd *cobra.Command, args []string) error {
	if err := applyChdir(); err != nil {
		return err
	}
	configureLogging()

	rawManifest, err := loadManifest(cleanFlags.manifestPath)
	if err != nil {
		return err
	}
	idx, err := manifest.NewIndex(rawManifest)
	if err != nil {
		return err
	}

	real := fsx.NewReal()
	parsed, err := invocationlog.Parse(real, logFileName)
	if err != nil {
		return err
	}
	if err := parsed.ResolveCreatedDirectories(real); err != nil {
		return err
	}

	cleaning := fsx.NewCleaningFileSystem(real)
	for _, step := range idx.Steps {
		for _, out := range step.Outputs {
			if err := cleaning.Unlink(out); err != nil && !fsx.IsNotExist(err) {
				return err
			}
		}
		if step.RspfilePath != "" {
			if err := cleaning.Unlink(step.RspfilePath); err != nil && !fsx.IsNotExist(err) {
				return err
			}
		}
	}
	for dir := range parsed.CreatedDirectoryPaths {
		_ = cleaning.Rmdir(dir)
	}

	if err := invocationlog.Recompact(real, invocationlog.NewInvocations(), logFileName, time.Now); err != nil {
		return err
	}

	fmt.Printf("shk: cleaned %d files/directories\n", cleaning.RemovedCount())
	return nil
}
