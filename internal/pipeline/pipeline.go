// Package pipeline owns the consumer half of the telemetry pipeline: the
// entity store, the history series, and the receiving end of the transfer
// channel. All three are confined to the single goroutine running the
// consumer loop. Ownership handoff through the channel is the only
// synchronization with the collector side; no locks guard the store or
// the history because only this goroutine ever touches them.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/procscope/agent/internal/channel"
	"github.com/procscope/agent/internal/config"
	"github.com/procscope/agent/internal/history"
	"github.com/procscope/agent/internal/models"
	"github.com/procscope/agent/internal/store"
)

// Series names recorded into history each applied cycle. Renderer and
// export collaborators look series up by these names.
const (
	SeriesCPUTotal      = "cpu_total"
	SeriesMemUsed       = "mem_used"
	SeriesSwapUsed      = "swap_used"
	SeriesNetRxRate     = "net_rx_rate"
	SeriesNetTxRate     = "net_tx_rate"
	SeriesDiskReadRate  = "disk_read_rate"
	SeriesDiskWriteRate = "disk_write_rate"
	SeriesGPUMemUsed    = "gpu_mem_used"
	SeriesLoad1         = "load1"
	SeriesProcCount     = "proc_count"
)

// trackedSeries fixes the push order used by pushHistory.
var trackedSeries = []string{
	SeriesCPUTotal, SeriesMemUsed, SeriesSwapUsed,
	SeriesNetRxRate, SeriesNetTxRate,
	SeriesDiskReadRate, SeriesDiskWriteRate,
	SeriesGPUMemUsed, SeriesLoad1, SeriesProcCount,
}

// Pipeline applies snapshots from the transfer channel to the entity store
// and the history series, and reports freshness to its collaborators.
type Pipeline struct {
	logger *zap.Logger
	rx     *channel.Receiver

	store  *store.Store
	series *history.Set

	interval       time.Duration
	stalenessAfter time.Duration

	startedAt  time.Time
	lastUpdate time.Time
	lastSeq    uint64
	applied    uint64
	skipped    uint64
	stale      bool

	scratch []float64

	pending          atomic.Pointer[config.Config]
	onIntervalChange func(time.Duration)
}

// Status is the consumer-side freshness and health surface. Collaborators
// read it instead of errors: collection failures degrade these fields, they
// never propagate as hard failures.
type Status struct {
	// Seq is the sequence number of the last applied snapshot, 0 before
	// any data has arrived.
	Seq uint64
	// LastUpdate is when data last changed; zero before the first apply.
	LastUpdate time.Time
	// Age is the time since data last changed, measured from startup
	// until the first snapshot lands.
	Age time.Duration
	// Stale is set when Age exceeds the configured staleness threshold.
	Stale bool
	// Truncated is set when the last applied snapshot overflowed the
	// store and was cut to capacity.
	Truncated bool
	// Flags records which sources failed in the last applied cycle.
	Flags models.SourceFlags
	// EntityCount is the number of records currently in the store.
	EntityCount int
	// Dropped counts snapshots the channel discarded under backpressure.
	Dropped uint64
	// Applied and Skipped count the consumer's accepted and discarded
	// snapshots since startup.
	Applied uint64
	Skipped uint64
}

// New creates a Pipeline reading from rx, sized from cfg. The caller must
// run all further access on one goroutine, normally via RunConsumer.
func New(rx *channel.Receiver, cfg *config.Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		logger:         logger,
		rx:             rx,
		store:          store.New(),
		series:         history.NewSet(cfg.HistoryCapacity(), trackedSeries...),
		interval:       cfg.Collection.Interval.Duration,
		stalenessAfter: cfg.StalenessAfter.Duration,
		startedAt:      time.Now(),
		scratch:        make([]float64, len(trackedSeries)),
	}
}

// Store exposes the entity store for renderer and export collaborators.
// Read-only, and only from the consumer goroutine.
func (p *Pipeline) Store() *store.Store { return p.store }

// History exposes the history series set under the same confinement rules
// as Store.
func (p *Pipeline) History() *history.Set { return p.series }

// Footprint returns the fixed memory the store and history occupy.
func (p *Pipeline) Footprint() uint64 {
	return store.FootprintBytes() + p.series.FootprintBytes()
}

// OnIntervalChange sets the callback invoked on the consumer goroutine when
// a queued configuration changes the collection interval. The producer side
// hooks its scheduler here.
func (p *Pipeline) OnIntervalChange(fn func(time.Duration)) {
	p.onIntervalChange = fn
}

// QueueConfig hands a reloaded configuration to the consumer loop. Safe to
// call from any goroutine; the loop applies it at its next tick. Only the
// newest queued configuration wins.
func (p *Pipeline) QueueConfig(cfg *config.Config) {
	p.pending.Store(cfg)
}

// Apply drains the channel and, if a newer snapshot arrived, applies it to
// the store and history. Returns true when data changed. Never blocks.
func (p *Pipeline) Apply(now time.Time) bool {
	snap, ok := p.rx.TryLatest()
	if !ok {
		p.checkStale(now)
		return false
	}
	if snap.Seq <= p.lastSeq {
		// TryLatest already returns the newest queued snapshot; this
		// guard keeps the ordering invariant even if an older one
		// ever reappears.
		p.skipped++
		models.ReleaseSnapshot(snap)
		p.checkStale(now)
		return false
	}

	p.store.Update(snap)
	p.pushHistory(snap)
	p.lastSeq = snap.Seq
	p.lastUpdate = now
	p.applied++
	if p.stale {
		p.stale = false
		p.logger.Info("Telemetry fresh again", zap.Uint64("seq", snap.Seq))
	}
	models.ReleaseSnapshot(snap)
	return true
}

// Status reports the freshness surface as of now.
func (p *Pipeline) Status(now time.Time) Status {
	ref := p.lastUpdate
	if ref.IsZero() {
		ref = p.startedAt
	}
	age := now.Sub(ref)
	return Status{
		Seq:         p.lastSeq,
		LastUpdate:  p.lastUpdate,
		Age:         age,
		Stale:       p.stalenessAfter > 0 && age > p.stalenessAfter,
		Truncated:   p.store.Truncated(),
		Flags:       p.store.Flags(),
		EntityCount: p.store.Count(),
		Dropped:     p.rx.Dropped(),
		Applied:     p.applied,
		Skipped:     p.skipped,
	}
}

// RunConsumer ticks the consumer loop until the context is cancelled, then
// performs a final drain and closes the receiver. Closing tells the
// producer side to terminate on its next publish.
func (p *Pipeline) RunConsumer(ctx context.Context) {
	defer p.rx.Close()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Apply(time.Now())
			return
		case now := <-ticker.C:
			if p.applyPending() {
				ticker.Reset(p.interval)
			}
			p.Apply(now)
		}
	}
}

// applyPending installs a queued configuration, if any. Returns true when
// the consumer tick cadence changed.
func (p *Pipeline) applyPending() bool {
	cfg := p.pending.Swap(nil)
	if cfg == nil {
		return false
	}
	changed := false
	if iv := cfg.Collection.Interval.Duration; iv != p.interval {
		p.interval = iv
		changed = true
		if p.onIntervalChange != nil {
			p.onIntervalChange(iv)
		}
	}
	if n := cfg.HistoryCapacity(); n != p.series.Cap() {
		// Resize discards retained samples; the rings restart empty.
		p.logger.Info("History capacity changed",
			zap.Int("from", p.series.Cap()),
			zap.Int("to", n),
			zap.String("retention", string(cfg.History.Retention)))
		p.series.ResizeAll(n)
	}
	p.stalenessAfter = cfg.StalenessAfter.Duration
	p.logger.Info("Configuration applied",
		zap.Duration("interval", p.interval),
		zap.Duration("staleness_after", p.stalenessAfter))
	return changed
}

// pushHistory appends this cycle's scalars to their series. The scratch
// slice keeps the steady-state push allocation free.
func (p *Pipeline) pushHistory(snap *models.Snapshot) {
	sys := &snap.System
	p.scratch[0] = sys.CPUTotalPercent
	p.scratch[1] = float64(sys.MemUsed)
	p.scratch[2] = float64(sys.SwapUsed)
	p.scratch[3] = sys.NetRxRate
	p.scratch[4] = sys.NetTxRate
	p.scratch[5] = sys.DiskReadRate
	p.scratch[6] = sys.DiskWriteRate
	p.scratch[7] = float64(sys.GPUMemUsed)
	p.scratch[8] = sys.Load1
	p.scratch[9] = float64(sys.ProcCount)
	p.series.PushAll(snap.CapturedAt, p.scratch)
}

func (p *Pipeline) checkStale(now time.Time) {
	if p.stale || p.stalenessAfter <= 0 {
		return
	}
	ref := p.lastUpdate
	if ref.IsZero() {
		ref = p.startedAt
	}
	if age := now.Sub(ref); age > p.stalenessAfter {
		p.stale = true
		p.logger.Warn("Telemetry stale",
			zap.Duration("age", age),
			zap.Uint64("last_seq", p.lastSeq))
	}
}
