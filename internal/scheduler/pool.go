package scheduler

import (
	"github.com/sirupsen/logrus"

	"github.com/shurikenbuild/shuriken/internal/tracerun"
)

// ConsolePool is the special pool name that inherits the parent terminal.
// Its depth is hard-coded to 1 regardless of what the manifest declares,
// since only one command at a time may own the console.
const ConsolePool = "console"

// pendingInvocation is one command delayed because its pool was full.
type pendingInvocation struct {
	command string
	pool    string
	cb      tracerun.Callback
}

// Pool caps the number of concurrently running commands per named pool,
// delaying excess invocations until a slot frees. An empty pool name means
// "unpooled" and always runs immediately. A named pool that was never
// declared has zero slots and blocks forever — matching the original's
// "undeclared pools have depth 0" behavior, a manifest-index-time
// responsibility the core trusts its caller to have avoided.
//
// Grounded on original_source/src/shk/src/cmd/pooled_command_runner.cpp's
// PooledCommandRunner almost line for line: invokeNow/delay/invokeDelayedJob,
// the "pool was empty, try to schedule a delayed job" transition on
// completion, and canRunNow's zero-depth-for-undeclared-pool rule.
type Pool struct {
	inner        tracerun.CommandRunner
	slots        map[string]int
	delayed      map[string][]pendingInvocation
	delayedCount int
	logger       *logrus.Entry
}

// NewPool wraps inner with per-pool concurrency limits from pools. The
// console pool's depth is always forced to 1.
func NewPool(pools map[string]int, inner tracerun.CommandRunner) *Pool {
	slots := make(map[string]int, len(pools)+1)
	for name, depth := range pools {
		slots[name] = depth
	}
	slots[ConsolePool] = 1
	return &Pool{
		inner:   inner,
		slots:   slots,
		delayed: map[string][]pendingInvocation{},
		logger:  logrus.WithField("component", "pool"),
	}
}

// Invoke enqueues command in pool, running it immediately if a slot is
// free, or delaying it until one opens up.
func (p *Pool) Invoke(command string, pool string, cb tracerun.Callback) error {
	if pool == "" {
		return p.inner.Invoke(command, pool, cb)
	}
	if p.canRunNow(pool) {
		return p.invokeNow(command, pool, cb)
	}
	p.logger.WithField("pool", pool).Debug("scheduler: delaying command, pool full")
	p.delayed[pool] = append(p.delayed[pool], pendingInvocation{command: command, pool: pool, cb: cb})
	p.delayedCount++
	return nil
}

func (p *Pool) canRunNow(pool string) bool {
	return p.slots[pool] > 0
}

func (p *Pool) invokeNow(command string, pool string, cb tracerun.Callback) error {
	p.slots[pool]--
	return p.inner.Invoke(command, pool, func(res tracerun.Result) {
		wasEmpty := p.slots[pool] == 0
		p.slots[pool]++
		if wasEmpty {
			p.invokeNextDelayed(pool)
		}
		cb(res)
	})
}

// invokeNextDelayed pops the oldest delayed command for pool, if any, now
// that a slot has freed. Errors from the retried Invoke are logged rather
// than propagated: the original's invoke() signature has no error return
// either, and a spawn failure here still reaches the caller through its own
// callback's Result.
func (p *Pool) invokeNextDelayed(pool string) {
	queue := p.delayed[pool]
	if len(queue) == 0 {
		return
	}
	next := queue[0]
	p.delayed[pool] = queue[1:]
	p.delayedCount--
	if err := p.invokeNow(next.command, next.pool, next.cb); err != nil {
		p.logger.WithError(err).WithField("pool", pool).Warn("scheduler: failed to invoke delayed command")
	}
}

// Size reports in-flight plus delayed commands.
func (p *Pool) Size() int { return p.inner.Size() + p.delayedCount }

// CanRunMore defers to the inner runner; pool capacity is a separate
// concern checked by Invoke/canRunNow.
func (p *Pool) CanRunMore() bool { return p.inner.CanRunMore() }

// RunCommands blocks until at least one inner command finishes.
func (p *Pool) RunCommands() error { return p.inner.RunCommands() }

// Interrupt forwards sig to the inner runner if it supports interruption.
func (p *Pool) Interrupt(sig int) {
	if interrupter, ok := p.inner.(interface{ Interrupt(int) }); ok {
		interrupter.Interrupt(sig)
	}
}

var _ tracerun.CommandRunner = (*Pool)(nil)
