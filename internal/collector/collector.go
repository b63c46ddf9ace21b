// Package collector orchestrates one collection cycle: it runs every
// registered metric source once, merges whatever succeeded into a single
// immutable snapshot, and records which sources failed. A cycle never
// aborts on source failure, and a watchdog guarantees the loop outlives
// any stuck source call.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/procscope/agent/internal/config"
	"github.com/procscope/agent/internal/models"
	"github.com/procscope/agent/internal/source"
)

// outcome carries one source call's result through the watchdog channel.
type outcome struct {
	payload any
	err     error
}

// registered is one source slot. Its index in the collector's slice is the
// bit the source occupies in every snapshot's failure flags.
type registered struct {
	src  source.Source
	name string
	// pending holds the result channel of an overdue Collect call from an
	// earlier cycle. While set, the source is not re-entered: its scratch
	// buffers are still owned by the stuck call.
	pending chan outcome
}

// Collector runs the per-cycle collection. It is owned by the collection
// goroutine; nothing here is safe for concurrent use and nothing needs to
// be.
type Collector struct {
	logger  *zap.Logger
	sources []registered
	session uuid.UUID

	sourceBudget time.Duration
	cycleBudget  time.Duration

	cores    int
	bootTime uint64

	seq uint64

	// cur and prev hold the cumulative counters of the running and the
	// previous cycle; rates are derived from their difference.
	cur  rawCounters
	prev rawCounters

	// Per-PID cumulative CPU seconds from the previous cycle, for the
	// per-entity CPU fraction. Two maps swap roles each cycle so the
	// steady state reuses their storage.
	prevProcCPU map[int32]float64
	curProcCPU  map[int32]float64
}

// rawCounters is the cumulative-counter baseline a cycle leaves behind.
type rawCounters struct {
	at time.Time

	cpuOK   bool
	cpu     source.CPUTimes
	perCore []source.CPUTimes

	netOK bool
	netRx uint64
	netTx uint64

	diskOK    bool
	diskRead  uint64
	diskWrite uint64
}

// New registers every available source, in order, and returns the
// collector. Unavailable sources are logged and skipped, exactly like
// sources beyond the failure bitset's width. The session id tags every log
// line this collector emits.
func New(candidates []source.Source, ident source.HostIdentity, cfg *config.Config, logger *zap.Logger) *Collector {
	session := uuid.New()
	logger = logger.With(zap.String("session", session.String()))

	cores := ident.CPUCount
	if cores < 1 {
		cores = 1
	}

	c := &Collector{
		logger:       logger,
		session:      session,
		sourceBudget: cfg.Collection.SourceBudget.Duration,
		cycleBudget:  cfg.Collection.CycleBudget.Duration,
		cores:        cores,
		bootTime:     ident.BootTime,
		prevProcCPU:  make(map[int32]float64),
		curProcCPU:   make(map[int32]float64),
	}

	for _, src := range candidates {
		if len(c.sources) >= models.MaxSources {
			logger.Warn("Source limit reached, skipping",
				zap.String("source", src.Name()),
				zap.Int("limit", models.MaxSources))
			continue
		}
		if !src.Available() {
			logger.Warn("Source not available, skipping",
				zap.String("source", src.Name()))
			continue
		}
		c.sources = append(c.sources, registered{src: src, name: src.Name()})
		logger.Info("Source registered", zap.String("source", src.Name()))
	}

	return c
}

// Session returns the collector's session id.
func (c *Collector) Session() uuid.UUID { return c.session }

// Names returns the registered source names in flag-bit order.
func (c *Collector) Names() []string {
	names := make([]string, len(c.sources))
	for i := range c.sources {
		names[i] = c.sources[i].name
	}
	return names
}

// RunCycle performs one collection cycle and returns the snapshot. The
// snapshot is never nil: failed sources cost their data, not the cycle.
// Ownership of the snapshot passes to the caller.
func (c *Collector) RunCycle(ctx context.Context) *models.Snapshot {
	started := time.Now()

	snap := models.AcquireSnapshot()
	c.seq++
	snap.Seq = c.seq
	snap.CapturedAt = started

	c.cur = rawCounters{at: started, perCore: c.cur.perCore[:0]}

	var errs error
	for i := range c.sources {
		r := &c.sources[i]
		payload, err := c.collectOne(ctx, r)
		if err != nil {
			snap.Flags.MarkFailed(i)
			errs = multierr.Append(errs, err)
			continue
		}
		c.merge(snap, payload)
	}

	c.derive(snap)
	c.rotate()

	snap.Elapsed = time.Since(started)
	snap.OverBudget = c.cycleBudget > 0 && snap.Elapsed > c.cycleBudget

	if errs != nil {
		c.logger.Warn("Cycle completed with source failures",
			zap.Uint64("seq", snap.Seq),
			zap.Int("failed", snap.Flags.FailedCount()),
			zap.Stringer("flags", snap.Flags),
			zap.Error(errs))
	}
	if snap.OverBudget {
		c.logger.Warn("Collection cycle over budget",
			zap.Uint64("seq", snap.Seq),
			zap.Duration("elapsed", snap.Elapsed),
			zap.Duration("budget", c.cycleBudget))
	} else {
		c.logger.Debug("Collected cycle",
			zap.Uint64("seq", snap.Seq),
			zap.Duration("elapsed", snap.Elapsed),
			zap.Int("entities", len(snap.Entities)))
	}

	return snap
}

// collectOne runs a single source under the per-source budget. A source
// that misses its budget is reported failed and left to finish in the
// background; the loop moves on immediately and will not re-enter the
// source until that call has actually returned.
func (c *Collector) collectOne(ctx context.Context, r *registered) (any, error) {
	if r.pending != nil {
		select {
		case <-r.pending:
			// The overdue call finally returned. Its payload describes
			// a cycle long gone; drop it and query fresh below.
			r.pending = nil
		default:
			return nil, fmt.Errorf("%s: previous call still running: %w", r.name, source.ErrTimeout)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, c.sourceBudget)
	defer cancel()

	res := make(chan outcome, 1)
	go func(src source.Source) {
		payload, err := src.Collect(cctx)
		res <- outcome{payload: payload, err: err}
	}(r.src)

	select {
	case out := <-res:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", r.name, out.err)
		}
		return out.payload, nil
	case <-cctx.Done():
		// The buffered channel lets the goroutine deposit its late
		// result and exit on its own; the collection loop is never
		// parked on a source.
		r.pending = res
		return nil, fmt.Errorf("%s: no result within %v: %w", r.name, c.sourceBudget, source.ErrTimeout)
	}
}

// merge folds one source payload into the snapshot and the cycle's raw
// counters.
func (c *Collector) merge(snap *models.Snapshot, payload any) {
	switch p := payload.(type) {
	case source.CPUSample:
		c.cur.cpuOK = true
		c.cur.cpu = p.Total
		c.cur.perCore = append(c.cur.perCore[:0], p.PerCore...)

	case source.MemorySample:
		snap.System.MemUsed = p.Used
		snap.System.MemTotal = p.Total
		snap.System.MemAvailable = p.Available
		snap.System.SwapUsed = p.SwapUsed
		snap.System.SwapTotal = p.SwapTotal

	case source.ProcessSample:
		snap.Entities = append(snap.Entities[:0], p.Entities...)

	case source.NetSample:
		c.cur.netOK = true
		c.cur.netRx = p.RxBytes
		c.cur.netTx = p.TxBytes
		snap.System.NetRxBytes = p.RxBytes
		snap.System.NetTxBytes = p.TxBytes

	case source.DiskIOSample:
		c.cur.diskOK = true
		c.cur.diskRead = p.ReadBytes
		c.cur.diskWrite = p.WriteBytes
		snap.System.DiskReadBytes = p.ReadBytes
		snap.System.DiskWriteBytes = p.WriteBytes

	case source.KernelSample:
		snap.System.Load1 = p.Load1
		snap.System.Load5 = p.Load5
		snap.System.Load15 = p.Load15
		snap.System.UptimeSec = p.UptimeSec
		snap.System.ProcCount = p.Procs

	case source.GPUSample:
		snap.System.GPUMemUsed = p.MemUsed
		snap.System.GPUMemTotal = p.MemTotal
		snap.System.GPUUtilPercent = p.UtilPercent

	default:
		c.logger.Warn("Source returned unrecognized payload",
			zap.String("type", fmt.Sprintf("%T", payload)))
	}
}

// derive computes everything that needs two cycles: CPU utilization from
// cumulative times, per-entity CPU fractions, and per-second I/O rates.
// The first cycle has no baseline and leaves all of them zero.
func (c *Collector) derive(snap *models.Snapshot) {
	if c.cur.cpuOK && c.prev.cpuOK {
		snap.System.CPUTotalPercent = busyPercent(c.prev.cpu, c.cur.cpu)
		n := len(c.cur.perCore)
		if len(c.prev.perCore) < n {
			n = len(c.prev.perCore)
		}
		for i := 0; i < n; i++ {
			snap.System.CPUPerCorePercent = append(snap.System.CPUPerCorePercent,
				busyPercent(c.prev.perCore[i], c.cur.perCore[i]))
		}
	}

	wall := 0.0
	if !c.prev.at.IsZero() {
		wall = c.cur.at.Sub(c.prev.at).Seconds()
	}

	if wall > 0 {
		if c.cur.netOK && c.prev.netOK {
			snap.System.NetRxRate = counterRate(c.prev.netRx, c.cur.netRx, wall)
			snap.System.NetTxRate = counterRate(c.prev.netTx, c.cur.netTx, wall)
		}
		if c.cur.diskOK && c.prev.diskOK {
			snap.System.DiskReadRate = counterRate(c.prev.diskRead, c.cur.diskRead, wall)
			snap.System.DiskWriteRate = counterRate(c.prev.diskWrite, c.cur.diskWrite, wall)
		}
	}

	// Per-entity CPU fraction: the process's share of the whole machine
	// since the previous cycle. PID reuse shows up as a negative delta
	// and is treated as a fresh process.
	capacity := wall * float64(c.cores)
	for i := range snap.Entities {
		e := &snap.Entities[i]
		if capacity > 0 {
			if prevTime, ok := c.prevProcCPU[e.PID]; ok && e.CPUTime >= prevTime {
				e.CPUFraction = clamp01((e.CPUTime - prevTime) / capacity)
			}
		}
		c.curProcCPU[e.PID] = e.CPUTime
	}

	if snap.System.UptimeSec == 0 && c.bootTime > 0 {
		now := uint64(c.cur.at.Unix())
		if now > c.bootTime {
			snap.System.UptimeSec = now - c.bootTime
		}
	}
	if snap.System.ProcCount == 0 {
		snap.System.ProcCount = len(snap.Entities)
	}
}

// rotate makes the finished cycle the baseline for the next one.
func (c *Collector) rotate() {
	// Keep the prev slice's storage alive inside cur for the next cycle.
	c.prev, c.cur = c.cur, rawCounters{perCore: c.prev.perCore[:0]}

	c.prevProcCPU, c.curProcCPU = c.curProcCPU, c.prevProcCPU
	clear(c.curProcCPU)
}

// busyPercent converts two cumulative readings into utilization over the
// interval between them.
func busyPercent(prev, cur source.CPUTimes) float64 {
	dTotal := cur.Total - prev.Total
	if dTotal <= 0 {
		return 0
	}
	pct := (cur.Busy - prev.Busy) / dTotal * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// counterRate converts two cumulative byte counters into bytes per second.
// A counter that went backwards (reset) yields zero for the cycle.
func counterRate(prev, cur uint64, wall float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / wall
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
