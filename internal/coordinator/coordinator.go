// Package coordinator drives the collection side of the pipeline. It owns
// the producer loop: run a collection cycle, hand the snapshot to the
// transfer channel, then sleep until the next scheduled tick. The next tick
// is computed by adding the interval to the previous scheduled time rather
// than to "now", so the cadence does not drift with cycle cost. The
// coordinator does NOT touch the store or history; those belong to the
// consumer side.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/procscope/agent/internal/channel"
	"github.com/procscope/agent/internal/collector"
	"github.com/procscope/agent/internal/config"
)

// State is the coordinator's position in its cycle loop.
type State int32

const (
	StateIdle State = iota
	StateCollecting
	StatePublishing
	StateSleeping
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StatePublishing:
		return "publishing"
	case StateSleeping:
		return "sleeping"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Coordinator runs the periodic collect/publish loop on a single goroutine.
type Coordinator struct {
	collector *collector.Collector
	sender    *channel.Sender
	logger    *zap.Logger

	interval atomic.Int64 // nanoseconds
	state    atomic.Int32
	paused   atomic.Bool

	stopOnce sync.Once
	stopped  chan struct{}
	resume   chan struct{}

	cycles         atomic.Uint64
	overruns       atomic.Uint64
	budgetOverruns atomic.Uint64
}

// New creates a Coordinator publishing the collector's snapshots to sender.
func New(coll *collector.Collector, sender *channel.Sender, cfg *config.Config, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		collector: coll,
		sender:    sender,
		logger:    logger,
		stopped:   make(chan struct{}),
		resume:    make(chan struct{}, 1),
	}
	c.interval.Store(int64(cfg.Collection.Interval.Duration))
	return c
}

// State reports the loop's current position.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// Interval reports the current collection interval.
func (c *Coordinator) Interval() time.Duration { return time.Duration(c.interval.Load()) }

// Cycles reports how many collection cycles have completed.
func (c *Coordinator) Cycles() uint64 { return c.cycles.Load() }

// Overruns reports how many times a cycle ran past its scheduled slot.
func (c *Coordinator) Overruns() uint64 { return c.overruns.Load() }

// BudgetOverruns reports how many cycles exceeded the collection budget.
// The collector stamps the snapshot; the count lives here so the producer
// side can be inspected without touching the consumer's status surface.
func (c *Coordinator) BudgetOverruns() uint64 { return c.budgetOverruns.Load() }

// SetInterval changes the collection interval, clamped to the allowed range.
// The new value takes effect when the next tick is computed; the sleep in
// progress still uses the old schedule.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d < config.MinInterval {
		d = config.MinInterval
	}
	if d > config.MaxInterval {
		d = config.MaxInterval
	}
	old := time.Duration(c.interval.Swap(int64(d)))
	if old != d {
		c.logger.Info("Collection interval changed",
			zap.Duration("from", old),
			zap.Duration("to", d))
	}
}

// Pause suspends the loop at the next sleeping-to-collecting transition.
// The cycle in progress still completes and publishes.
func (c *Coordinator) Pause() {
	if c.paused.CompareAndSwap(false, true) {
		c.logger.Info("Collection paused")
	}
}

// Resume lifts a pause. The schedule is re-anchored to the resume time, so
// a long pause does not produce a burst of catch-up cycles.
func (c *Coordinator) Resume() {
	if c.paused.CompareAndSwap(true, false) {
		select {
		case c.resume <- struct{}{}:
		default:
		}
		c.logger.Info("Collection resumed")
	}
}

// Stop requests a cooperative stop. The loop finishes the cycle in progress,
// then transitions to Terminated. Safe to call more than once and before Run.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Run executes the loop until stopped or the context is cancelled. The first
// cycle starts immediately. Run blocks; callers normally run it on its own
// goroutine. A closed transfer channel terminates the loop.
func (c *Coordinator) Run(ctx context.Context) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateCollecting)) {
		c.logger.Warn("Run called on a non-idle coordinator",
			zap.Stringer("state", c.State()))
		return
	}
	defer c.state.Store(int32(StateTerminated))

	c.logger.Info("Coordinator started", zap.Duration("interval", c.Interval()))

	next := time.Now()
	for {
		if c.stopRequested(ctx) {
			c.state.Store(int32(StateStopping))
			c.logger.Info("Coordinator stopping", zap.Uint64("cycles", c.Cycles()))
			return
		}

		c.state.Store(int32(StateCollecting))
		snap := c.collector.RunCycle(ctx)
		c.cycles.Add(1)
		if snap.OverBudget {
			c.budgetOverruns.Add(1)
		}

		c.state.Store(int32(StatePublishing))
		if err := c.sender.Send(snap); errors.Is(err, channel.ErrClosed) {
			c.state.Store(int32(StateStopping))
			c.logger.Info("Transfer channel closed, stopping",
				zap.Uint64("cycles", c.Cycles()))
			return
		}

		c.state.Store(int32(StateSleeping))
		interval := c.Interval()
		next = next.Add(interval)
		if behind := time.Since(next); behind >= 0 {
			// The cycle ran past its slot. Skip the missed ticks instead
			// of running catch-up cycles back to back.
			c.overruns.Add(1)
			next = next.Add((behind/interval + 1) * interval)
			c.logger.Warn("Cycle overran its schedule",
				zap.Duration("behind", behind),
				zap.Duration("interval", interval))
		}

		if !c.sleepUntil(ctx, next) {
			c.state.Store(int32(StateStopping))
			c.logger.Info("Coordinator stopping", zap.Uint64("cycles", c.Cycles()))
			return
		}

		// Pause gate. Checked only here, on the sleeping-to-collecting edge.
		if waited := c.waitResumed(ctx); waited < 0 {
			c.state.Store(int32(StateStopping))
			c.logger.Info("Coordinator stopping while paused")
			return
		} else if waited > 0 {
			next = time.Now()
		}
	}
}

func (c *Coordinator) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopped:
		return true
	default:
		return false
	}
}

// sleepUntil blocks until the scheduled time. Returns false on stop.
func (c *Coordinator) sleepUntil(ctx context.Context, next time.Time) bool {
	d := time.Until(next)
	if d <= 0 {
		return !c.stopRequested(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stopped:
		return false
	case <-timer.C:
		return true
	}
}

// waitResumed blocks while the loop is paused. Returns a positive count if
// it waited, zero if it never had to, and a negative count on stop.
func (c *Coordinator) waitResumed(ctx context.Context) int {
	waited := 0
	for c.paused.Load() {
		waited++
		select {
		case <-ctx.Done():
			return -1
		case <-c.stopped:
			return -1
		case <-c.resume:
		}
	}
	return waited
}
