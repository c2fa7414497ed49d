package tracerun

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shurikenbuild/shuriken/internal/fsx"
	"github.com/shurikenbuild/shuriken/internal/subproc"
)

// TracingCommandRunner is the CommandRunner the scheduler actually drives.
// Every Invoke is rewritten to run under the external tracer binary; once
// the inner subproc.Runner reports completion, the trace artifact is read
// back, decoded, and filtered into the Inputs/Outputs the scheduler
// fingerprints and logs.
//
// Grounded on original_source/src/cmd/trace_command_runner.cpp: one trace
// file per invocation, mkstemp'd up front, the command wrapped through the
// tracer, the artifact read and deleted after the command exits.
type TracingCommandRunner struct {
	fs           fsx.FileSystem
	inner        *subproc.Runner
	server       *TraceServerHandle
	tracerBinary string
	traceDir     string
	cwd          string
}

// NewTracingCommandRunner returns a CommandRunner that traces every
// invocation with tracerBinary, staging trace artifacts under traceDir.
func NewTracingCommandRunner(fs fsx.FileSystem, server *TraceServerHandle, tracerBinary, traceDir, cwd string) *TracingCommandRunner {
	return &TracingCommandRunner{
		fs:           fs,
		inner:        subproc.NewRunner(),
		server:       server,
		tracerBinary: tracerBinary,
		traceDir:     traceDir,
		cwd:          cwd,
	}
}

// Invoke mkstemps a trace artifact path, rewrites command to run under the
// tracer binary, and forwards it to the inner subproc.Runner. pool's only
// effect here is marking the command as "console" (pool == "console"),
// which the inner runner exempts from Interrupt signaling.
func (r *TracingCommandRunner) Invoke(command string, pool string, cb Callback) error {
	if err := r.server.Ensure(); err != nil {
		return errors.Wrap(err, "tracerun: starting trace server")
	}

	tracePath, err := r.fs.Mkstemp(r.traceDir + "/trace.XXXXXXXX")
	if err != nil {
		return errors.Wrap(err, "tracerun: allocating trace path")
	}

	traced := wrapWithTracer(r.tracerBinary, tracePath, command)
	console := pool == "console"

	return r.inner.Invoke(traced, console, func(res subproc.Result) {
		result := Result{
			ExitStatus: ExitStatus(res.ExitStatus),
			Output:     res.Output,
		}

		if art, err := r.readArtifact(tracePath); err != nil {
			logrus.WithError(err).WithField("command", command).Warn("tracerun: failed to read trace artifact")
		} else {
			result.Inputs = filterInputs(art.Inputs, r.cwd)
			result.Outputs = art.Outputs
			var prefix string
			for _, e := range art.Errors {
				logrus.WithField("command", command).Warnf("tracerun: tracer reported error: %s", e)
				prefix += fmt.Sprintf("shk: %s\n", e)
			}
			result.Output = prefix + result.Output
		}
		_ = r.fs.Unlink(tracePath)

		cb(result)
	})
}

func (r *TracingCommandRunner) readArtifact(tracePath string) (Artifact, error) {
	data, err := r.fs.ReadFile(tracePath)
	if err != nil {
		return Artifact{}, err
	}
	return decodeArtifact(data)
}

// SetMaxParallel forwards to the inner subproc.Runner's -j-style cap.
func (r *TracingCommandRunner) SetMaxParallel(n int) { r.inner.SetMaxParallel(n) }

// Size reports the number of in-flight traced commands.
func (r *TracingCommandRunner) Size() int { return r.inner.Size() }

// CanRunMore defers to the inner runner; concurrency caps are the
// scheduler's Pool wrapper's concern, not tracerun's.
func (r *TracingCommandRunner) CanRunMore() bool { return r.inner.CanRunMore() }

// RunCommands blocks until at least one traced command has finished.
func (r *TracingCommandRunner) RunCommands() error { return r.inner.RunCommands() }

// Interrupt forwards sig to every non-console in-flight traced command.
func (r *TracingCommandRunner) Interrupt(sig int) { r.inner.Interrupt(sig) }

var _ CommandRunner = (*TracingCommandRunner)(nil)
