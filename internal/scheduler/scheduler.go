// Package scheduler drives a planner.Build to completion through a
// tracerun.CommandRunner: it enqueues ready steps honoring pool caps and a
// failure budget, deletes stale and superseded outputs, recreates rspfiles
// and output directories, and records every successful invocation back into
// the invocation log.
//
// Grounded on original_source/src/build.cpp's detail::BuildCommandParameters
// / enqueueBuildCommand / commandDone / deleteBuildProduct /
// deleteStaleOutputs pipeline, with the per-pool concurrency wrapper split
// out into pool.go (component H).
package scheduler

import (
	"fmt"
	"path"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shurikenbuild/shuriken/internal/fingerprint"
	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/invocationlog"
	"github.com/shurikenbuild/shuriken/internal/manifest"
	"github.com/shurikenbuild/shuriken/internal/planner"
	"github.com/shurikenbuild/shuriken/internal/tracerun"
)

// Result is the scheduler's overall build outcome, per spec.md §4.F "Final
// status".
type Result int

const (
	Success Result = iota
	NoWorkToDo
	Interrupted
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case NoWorkToDo:
		return "NO_WORK_TO_DO"
	case Interrupted:
		return "INTERRUPTED"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Scheduler is single-threaded and cooperative: it holds no goroutines of
// its own. Suspension happens inside the CommandRunner's RunCommands, which
// blocks on child process I/O; completion callbacks run synchronously on
// the calling goroutine and may call Invoke (enqueue more) but never
// RunCommands (no re-entrancy), per spec.md §5.
type Scheduler struct {
	fs     fsx.FileSystem
	clock  fingerprint.Clock
	runner tracerun.CommandRunner
	log    *invocationlog.Log

	idx         *manifest.Index
	build       *planner.Build
	invocations invocationlog.Invocations

	cleanAtStart map[manifest.StepIndex]bool
	writtenFiles map[fingerprint.FileId]fingerprint.Hash

	ready             []manifest.StepIndex
	failuresAllowed   int
	remainingFailures int
	invokedCommands   int
	interrupted       bool
	firstErr          error

	logger *logrus.Entry
}

// New builds a Scheduler ready to drive toRun (the planner's DiscardCleanSteps
// output) to completion. It separately snapshots cleanliness for every
// should-build step (planner.ComputeCleanSteps), not just toRun, because a
// step behind a currently-dirty dependency can still turn out skippable once
// that dependency finishes, if every file it rewrote still has the recorded
// stat subset and hash (canSkipBuildCommand).
func New(
	fs fsx.FileSystem,
	clock fingerprint.Clock,
	runner tracerun.CommandRunner,
	log *invocationlog.Log,
	idx *manifest.Index,
	build *planner.Build,
	invocations invocationlog.Invocations,
	toRun []manifest.StepIndex,
	failuresAllowed int,
) (*Scheduler, error) {
	cleanSteps, err := planner.ComputeCleanSteps(fs, idx, invocations, build)
	if err != nil {
		return nil, err
	}

	cleanAtStart := make(map[manifest.StepIndex]bool, len(cleanSteps))
	for si, res := range cleanSteps {
		cleanAtStart[si] = res.Clean
		if res.Clean && res.ShouldUpdate {
			if err := planner.RelogStep(fs, log, idx, invocations, si); err != nil {
				return nil, err
			}
		}
	}

	return &Scheduler{
		fs:                fs,
		clock:             clock,
		runner:            runner,
		log:               log,
		idx:               idx,
		build:             build,
		invocations:       invocations,
		cleanAtStart:      cleanAtStart,
		writtenFiles:      map[fingerprint.FileId]fingerprint.Hash{},
		ready:             append([]manifest.StepIndex(nil), toRun...),
		failuresAllowed:   failuresAllowed,
		remainingFailures: failuresAllowed,
		logger:            logrus.WithField("component", "scheduler"),
	}, nil
}

// Run drives the build to completion. Matching build.cpp's build(): enqueue
// everything runnable, then alternate RunCommands/re-enqueue until the
// runner is empty.
func (s *Scheduler) Run() (Result, error) {
	if err := s.enqueueReady(); err != nil {
		return Failure, err
	}

	for s.runner.Size() > 0 {
		if err := s.runner.RunCommands(); err != nil {
			return Failure, err
		}
		if s.firstErr != nil {
			return Failure, s.firstErr
		}
	}

	if s.interrupted {
		return Interrupted, nil
	}
	if s.remainingFailures != s.failuresAllowed {
		return Failure, nil
	}
	if s.invokedCommands == 0 {
		return NoWorkToDo, nil
	}
	return Success, nil
}

// enqueueReady feeds the command runner every step it has room for, exactly
// as build.cpp's enqueueBuildCommands loops enqueueBuildCommand until it
// returns false.
func (s *Scheduler) enqueueReady() error {
	for {
		ok, err := s.enqueueOne()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

func (s *Scheduler) enqueueOne() (bool, error) {
	if len(s.ready) == 0 || !s.runner.CanRunMore() || s.remainingFailures == 0 {
		return false, nil
	}

	si := s.ready[len(s.ready)-1]
	s.ready = s.ready[:len(s.ready)-1]
	step := s.idx.Steps[si]

	if s.canSkipBuildCommand(si, step) {
		s.commandBypassed(si)
		return true, nil
	}

	if err := s.deleteOldOutputs(step); err != nil {
		return false, err
	}

	if step.RspfilePath != "" {
		if err := s.mkdirsAndLog(path.Dir(step.RspfilePath)); err != nil {
			return false, err
		}
		if err := s.fs.WriteFile(step.RspfilePath, []byte(step.RspfileContent)); err != nil {
			return false, err
		}
	}

	for _, dir := range step.OutputDirs {
		if err := s.mkdirsAndLog(dir); err != nil {
			return false, err
		}
	}

	if !step.Phony {
		s.invokedCommands++
	}
	s.logger.WithField("step", stepLabel(step)).Debug("scheduler: invoking step")

	err := s.runner.Invoke(step.Command, step.Pool, func(res tracerun.Result) {
		if cbErr := s.commandDone(si, res); cbErr != nil && s.firstErr == nil {
			s.firstErr = cbErr
		}
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// canSkipBuildCommand reports whether si — already known clean at the start
// of the build — can still be bypassed now, i.e. none of its recorded
// inputs has since been overwritten by another in-flight step so that its
// stat subset or hash differs from the recorded fingerprint
// (fingerprint.Equivalent). Grounded on build.cpp's canSkipBuildCommand.
func (s *Scheduler) canSkipBuildCommand(si manifest.StepIndex, step manifest.Step) bool {
	if !s.cleanAtStart[si] {
		return false
	}
	entry, ok := s.invocations.Entries[step.Hash]
	if !ok {
		return false
	}
	for _, fi := range entry.InputFiles {
		pf := s.invocations.Fingerprints[fi]
		st, err := s.fs.Lstat(pf.Path)
		if err != nil {
			continue
		}
		newHash, written := s.writtenFiles[fingerprint.FileIdFromStat(st)]
		if !written {
			continue
		}
		if !fingerprint.Equivalent(pf.Fingerprint, st, newHash) {
			return false
		}
	}
	return true
}

// commandBypassed marks si done without ever invoking its command, for a
// step that canSkipBuildCommand found still clean. No log entry is written.
func (s *Scheduler) commandBypassed(si manifest.StepIndex) {
	s.markStepDone(si)
}

// commandDone is the completion callback for step si's invocation. Mirrors
// build.cpp's commandDone: unlink the depfile unconditionally (Shuriken
// learns dependencies through tracing, never by parsing it), unlink the
// rspfile on non-failure, fingerprint every reported output, detect
// cross-step FileId collisions, log the invocation on success, and feed the
// runner with more ready work.
func (s *Scheduler) commandDone(si manifest.StepIndex, result tracerun.Result) error {
	step := s.idx.Steps[si]

	if step.Depfile != "" {
		if err := s.deleteBuildProduct(step.Depfile); err != nil {
			return err
		}
	}
	if step.RspfilePath != "" && result.ExitStatus != tracerun.Failure {
		if err := s.deleteBuildProduct(step.RspfilePath); err != nil {
			return err
		}
	}

	outputFingerprints := make([]invocationlog.PathFingerprint, 0, len(result.Outputs))
	for _, outputFile := range result.Outputs {
		fp, fileID, err := s.log.Fingerprint(s.fs, outputFile)
		if err != nil {
			return err
		}
		outputFingerprints = append(outputFingerprints, invocationlog.PathFingerprint{Path: outputFile, Fingerprint: fp})

		if fp.Stat.Mode != 0 || fp.Stat.Size != 0 {
			if existing, collides := s.writtenFiles[fileID]; collides && existing != fp.Hash {
				result.ExitStatus = tracerun.Failure
				result.Output += fmt.Sprintf("shk: build step wrote to file that other build step has already written to: %s\n", outputFile)
			} else {
				s.writtenFiles[fileID] = fp.Hash
			}
		}
	}

	switch result.ExitStatus {
	case tracerun.Success:
		if step.Pool != ConsolePool && !step.Phony {
			inputFingerprints := make([]invocationlog.PathFingerprint, 0, len(result.Inputs))
			for _, inputFile := range result.Inputs {
				fp, _, err := s.log.Fingerprint(s.fs, inputFile)
				if err != nil {
					return err
				}
				inputFingerprints = append(inputFingerprints, invocationlog.PathFingerprint{Path: inputFile, Fingerprint: fp})
			}
			if err := s.log.RanCommand(step.Hash, outputFingerprints, inputFingerprints); err != nil {
				return err
			}
		}
		s.markStepDone(si)

	case tracerun.Failure, tracerun.Interrupted:
		if result.ExitStatus == tracerun.Interrupted {
			s.interrupted = true
		}
		if s.remainingFailures > 0 {
			s.remainingFailures--
		}
		s.logger.WithFields(logrus.Fields{
			"step":   stepLabel(step),
			"status": result.ExitStatus,
		}).Warn("scheduler: step failed")
	}

	return s.enqueueReady()
}

// markStepDone decrements every dependent's remaining-dependency count,
// queuing any that reach zero, exactly as build.cpp's markStepNodeAsDone.
func (s *Scheduler) markStepDone(si manifest.StepIndex) {
	state := s.build.States[si]
	for _, dependent := range state.Dependents {
		depState := s.build.States[dependent]
		depState.DependenciesRemaining--
		if depState.DependenciesRemaining == 0 {
			s.ready = append(s.ready, dependent)
		}
	}
}

// deleteOldOutputs unlinks every output the invocation log recorded for
// step's prior run, via the same ancestor-directory cleanup deleteBuildProduct
// performs. Grounded on build.cpp's deleteOldOutputs.
func (s *Scheduler) deleteOldOutputs(step manifest.Step) error {
	entry, ok := s.invocations.Entries[step.Hash]
	if !ok {
		return nil
	}
	for _, fi := range entry.OutputFiles {
		if err := s.deleteBuildProduct(s.invocations.Fingerprints[fi].Path); err != nil {
			return err
		}
	}
	return nil
}

// mkdirsAndLog creates dir and every missing ancestor, logging each newly
// created directory so a later build can remove it once it becomes empty.
func (s *Scheduler) mkdirsAndLog(dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	if _, err := s.fs.Lstat(dir); err == nil {
		return nil
	}
	if err := s.mkdirsAndLog(path.Dir(dir)); err != nil {
		return err
	}
	if err := s.fs.Mkdir(dir); err != nil {
		return err
	}
	return s.log.CreatedDirectory(dir)
}

// deleteBuildProduct unlinks path (ENOENT tolerated) then walks ancestor
// directories upward, removing any that are both empty and known to have
// been created by a prior build step (spec.md's created-directory-tracking
// invariant: arbitrary pre-existing directories are never removed).
//
// Grounded on build.cpp's deleteBuildProduct.
func (s *Scheduler) deleteBuildProduct(p string) error {
	if err := s.fs.Unlink(p); err != nil && !fsx.IsNotExist(err) {
		return errors.Wrapf(err, "scheduler: unlink build product %s", p)
	}

	dir := p
	for {
		parent := path.Dir(dir)
		if parent == dir || parent == "." {
			break
		}
		dir = parent

		st, err := s.fs.Lstat(dir)
		if fsx.IsNotExist(err) {
			break
		}
		if err != nil {
			break
		}
		if _, created := s.invocations.CreatedDirectories[fingerprint.FileIdFromStat(st)]; !created {
			break
		}
		if err := s.fs.Rmdir(dir); err != nil {
			if isNotEmpty(err) {
				break
			}
			return errors.Wrapf(err, "scheduler: rmdir %s", dir)
		}
		if err := s.log.RemovedDirectory(dir); err != nil {
			return err
		}
		delete(s.invocations.CreatedDirectories, fingerprint.FileIdFromStat(st))
	}
	return nil
}

// DeleteStaleOutputs removes the outputs of every invocation log entry whose
// step hash is no longer produced by the current manifest, and writes a
// DELETED(hash) record for each, so recompaction drops them too. Runs once
// before the scheduler's first enqueue (spec.md §4.F, §8 scenario S6).
//
// Grounded on build.cpp's deleteStaleOutputs.
func DeleteStaleOutputs(fs fsx.FileSystem, log *invocationlog.Log, idx *manifest.Index, invocations invocationlog.Invocations) error {
	live := make(map[fingerprint.Hash]bool, len(idx.Steps))
	for _, step := range idx.Steps {
		live[step.Hash] = true
	}

	s := &Scheduler{fs: fs, log: log, invocations: invocations, logger: logrus.WithField("component", "scheduler")}

	for hash, entry := range invocations.Entries {
		if live[hash] {
			continue
		}
		for _, fi := range entry.OutputFiles {
			if err := s.deleteBuildProduct(invocations.Fingerprints[fi].Path); err != nil {
				return err
			}
		}
		if err := log.CleanedCommand(hash); err != nil {
			return err
		}
		delete(invocations.Entries, hash)
		s.logger.WithField("hash", fmt.Sprintf("%x", hash)).Info("scheduler: deleted stale output")
	}
	return nil
}

func stepLabel(step manifest.Step) string {
	if len(step.Outputs) > 0 {
		return step.Outputs[0]
	}
	return step.Command
}
