package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/procscope/agent/internal/config"
	"github.com/procscope/agent/internal/models"
	"github.com/procscope/agent/internal/source"
)

// fakeSource is a scriptable source for collector tests.
type fakeSource struct {
	name      string
	available bool
	collect   func(ctx context.Context) (any, error)
}

func (f *fakeSource) Name() string                             { return f.name }
func (f *fakeSource) Collect(ctx context.Context) (any, error) { return f.collect(ctx) }
func (f *fakeSource) Available() bool                          { return f.available }

func fixed(name string, payload any) *fakeSource {
	return &fakeSource{
		name:      name,
		available: true,
		collect:   func(context.Context) (any, error) { return payload, nil },
	}
}

func failing(name string, err error) *fakeSource {
	return &fakeSource{
		name:      name,
		available: true,
		collect:   func(context.Context) (any, error) { return nil, err },
	}
}

func testCfg(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Collection.SourceBudget = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Normalize(zap.NewNop())
	return cfg
}

func testIdent() source.HostIdentity {
	return source.HostIdentity{Hostname: "testhost", CPUCount: 1}
}

func TestNew_SkipsUnavailableSources(t *testing.T) {
	c := New([]source.Source{
		fixed("alpha", source.MemorySample{}),
		&fakeSource{name: "beta", available: false},
		fixed("gamma", source.NetSample{}),
	}, testIdent(), testCfg(t), zap.NewNop())

	names := c.Names()
	if len(names) != 2 {
		t.Fatalf("Names() = %v, want 2 registered sources", names)
	}
	if names[0] != "alpha" || names[1] != "gamma" {
		t.Errorf("Names() = %v, want [alpha gamma] in registration order", names)
	}
}

func TestRunCycle_MergesPayloads(t *testing.T) {
	entities := []models.EntityRecord{
		{PID: 10, Name: "a", CPUTime: 1.5, MemoryBytes: 4096},
		{PID: 20, Name: "b", CPUTime: 0.5, MemoryBytes: 8192},
	}
	c := New([]source.Source{
		fixed("memory", source.MemorySample{Used: 100, Total: 200, Available: 90, SwapUsed: 10, SwapTotal: 50}),
		fixed("process", source.ProcessSample{Entities: entities}),
		fixed("network", source.NetSample{RxBytes: 1000, TxBytes: 2000}),
		fixed("diskio", source.DiskIOSample{ReadBytes: 3000, WriteBytes: 4000}),
		fixed("kernel", source.KernelSample{Procs: 2, Load1: 0.5, Load5: 0.4, Load15: 0.3, UptimeSec: 999}),
		fixed("gpu", source.GPUSample{MemUsed: 11, MemTotal: 22, UtilPercent: 33}),
	}, testIdent(), testCfg(t), zap.NewNop())

	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	sys := snap.System
	if sys.MemUsed != 100 || sys.MemTotal != 200 || sys.MemAvailable != 90 {
		t.Errorf("memory = %d/%d/%d, want 100/200/90", sys.MemUsed, sys.MemTotal, sys.MemAvailable)
	}
	if sys.SwapUsed != 10 || sys.SwapTotal != 50 {
		t.Errorf("swap = %d/%d, want 10/50", sys.SwapUsed, sys.SwapTotal)
	}
	if len(snap.Entities) != 2 || snap.Entities[0].PID != 10 {
		t.Errorf("entities = %+v, want the process sample's two records", snap.Entities)
	}
	if sys.NetRxBytes != 1000 || sys.NetTxBytes != 2000 {
		t.Errorf("net counters = %d/%d, want 1000/2000", sys.NetRxBytes, sys.NetTxBytes)
	}
	if sys.DiskReadBytes != 3000 || sys.DiskWriteBytes != 4000 {
		t.Errorf("disk counters = %d/%d, want 3000/4000", sys.DiskReadBytes, sys.DiskWriteBytes)
	}
	if sys.Load1 != 0.5 || sys.UptimeSec != 999 || sys.ProcCount != 2 {
		t.Errorf("kernel sample not merged: %+v", sys)
	}
	if sys.GPUMemUsed != 11 || sys.GPUMemTotal != 22 || sys.GPUUtilPercent != 33 {
		t.Errorf("gpu sample not merged: %+v", sys)
	}
	if snap.Flags.Any() {
		t.Errorf("Flags = %v, want none with all sources healthy", snap.Flags)
	}
	if snap.Seq != 1 {
		t.Errorf("Seq = %d, want 1", snap.Seq)
	}
}

// One source failing for five consecutive cycles: its flag bit is set every
// cycle and the healthy sources' data still arrives.
func TestRunCycle_PartialFailureFiveCycles(t *testing.T) {
	c := New([]source.Source{
		fixed("memory", source.MemorySample{Total: 4096}),
		failing("gpu", fmt.Errorf("gpu: %w", source.ErrUnavailable)),
	}, testIdent(), testCfg(t), zap.NewNop())

	for cycle := 1; cycle <= 5; cycle++ {
		snap := c.RunCycle(context.Background())
		if !snap.Flags.Failed(1) {
			t.Errorf("cycle %d: gpu flag bit not set", cycle)
		}
		if snap.Flags.Failed(0) {
			t.Errorf("cycle %d: healthy memory source flagged", cycle)
		}
		if snap.System.MemTotal != 4096 {
			t.Errorf("cycle %d: memory data missing despite healthy source", cycle)
		}
		if snap.Seq != uint64(cycle) {
			t.Errorf("cycle %d: Seq = %d", cycle, snap.Seq)
		}
		models.ReleaseSnapshot(snap)
	}
}

func TestRunCycle_FirstCycleRatesAreZero(t *testing.T) {
	c := New([]source.Source{
		fixed("cpu", source.CPUSample{Total: source.CPUTimes{Busy: 100, Total: 200}}),
		fixed("network", source.NetSample{RxBytes: 5000}),
	}, testIdent(), testCfg(t), zap.NewNop())

	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	if snap.System.CPUTotalPercent != 0 {
		t.Errorf("first-cycle CPU%% = %v, want 0 (no baseline)", snap.System.CPUTotalPercent)
	}
	if snap.System.NetRxRate != 0 {
		t.Errorf("first-cycle rx rate = %v, want 0", snap.System.NetRxRate)
	}
	if snap.System.NetRxBytes != 5000 {
		t.Errorf("cumulative counter = %v, want 5000 even on the first cycle", snap.System.NetRxBytes)
	}
}

func TestRunCycle_DerivesCPUPercent(t *testing.T) {
	samples := []source.CPUSample{
		{Total: source.CPUTimes{Busy: 100, Total: 200},
			PerCore: []source.CPUTimes{{Busy: 50, Total: 100}, {Busy: 50, Total: 100}}},
		{Total: source.CPUTimes{Busy: 150, Total: 300},
			PerCore: []source.CPUTimes{{Busy: 90, Total: 150}, {Busy: 60, Total: 150}}},
	}
	calls := 0
	cpuSrc := &fakeSource{name: "cpu", available: true, collect: func(context.Context) (any, error) {
		s := samples[calls]
		calls++
		return s, nil
	}}
	c := New([]source.Source{cpuSrc}, testIdent(), testCfg(t), zap.NewNop())

	first := c.RunCycle(context.Background())
	models.ReleaseSnapshot(first)

	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	// Busy went 100→150 of total 200→300: 50/100 = 50%.
	if got := snap.System.CPUTotalPercent; got != 50 {
		t.Errorf("CPUTotalPercent = %v, want 50", got)
	}
	wantCores := []float64{80, 20} // 40/50 and 10/50
	if len(snap.System.CPUPerCorePercent) != 2 {
		t.Fatalf("per-core len = %d, want 2", len(snap.System.CPUPerCorePercent))
	}
	for i, want := range wantCores {
		if got := snap.System.CPUPerCorePercent[i]; got != want {
			t.Errorf("core %d = %v, want %v", i, got, want)
		}
	}
}

func TestRunCycle_DerivesEntityCPUFraction(t *testing.T) {
	cycle := 0
	procSrc := &fakeSource{name: "process", available: true, collect: func(context.Context) (any, error) {
		cycle++
		base := float64(cycle) // cumulative seconds grow each cycle
		return source.ProcessSample{Entities: []models.EntityRecord{
			{PID: 1, Name: "slow", CPUTime: 0.001 * base},
			{PID: 2, Name: "fast", CPUTime: 0.002 * base},
		}}, nil
	}}
	c := New([]source.Source{procSrc}, testIdent(), testCfg(t), zap.NewNop())

	first := c.RunCycle(context.Background())
	if first.Entities[0].CPUFraction != 0 {
		t.Errorf("first-cycle fraction = %v, want 0", first.Entities[0].CPUFraction)
	}
	models.ReleaseSnapshot(first)

	time.Sleep(100 * time.Millisecond)
	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	slow := snap.Entities[0].CPUFraction
	fast := snap.Entities[1].CPUFraction
	if slow <= 0 || slow >= 1 || fast <= 0 || fast >= 1 {
		t.Fatalf("fractions = %v, %v, want both in (0,1)", slow, fast)
	}
	// Both divide the same wall interval, so the ratio is exact.
	if ratio := fast / slow; math.Abs(ratio-2) > 1e-9 {
		t.Errorf("fast/slow = %v, want 2", ratio)
	}
}

func TestRunCycle_NewPIDHasZeroFraction(t *testing.T) {
	cycle := 0
	procSrc := &fakeSource{name: "process", available: true, collect: func(context.Context) (any, error) {
		cycle++
		ents := []models.EntityRecord{{PID: 1, CPUTime: float64(cycle) * 0.001}}
		if cycle >= 2 {
			ents = append(ents, models.EntityRecord{PID: 99, CPUTime: 5})
		}
		return source.ProcessSample{Entities: ents}, nil
	}}
	c := New([]source.Source{procSrc}, testIdent(), testCfg(t), zap.NewNop())

	models.ReleaseSnapshot(c.RunCycle(context.Background()))
	time.Sleep(20 * time.Millisecond)
	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	if snap.Entities[1].CPUFraction != 0 {
		t.Errorf("unseen PID fraction = %v, want 0 (no baseline)", snap.Entities[1].CPUFraction)
	}
}

func TestRunCycle_WatchdogFlagsSlowSource(t *testing.T) {
	release := make(chan struct{})
	calls := 0
	slow := &fakeSource{name: "stuck", available: true, collect: func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			<-release // ignores ctx on purpose
		}
		return source.MemorySample{Total: 1}, nil
	}}
	cfg := testCfg(t)
	cfg.Collection.SourceBudget = config.Duration{Duration: 20 * time.Millisecond}
	c := New([]source.Source{
		slow,
		fixed("memory", source.MemorySample{Total: 4096}),
	}, testIdent(), cfg, zap.NewNop())

	start := time.Now()
	snap := c.RunCycle(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cycle took %v: watchdog did not fire", elapsed)
	}
	if !snap.Flags.Failed(0) {
		t.Error("slow source not flagged as failed")
	}
	if snap.System.MemTotal != 4096 {
		t.Error("cycle did not proceed past the stuck source")
	}
	models.ReleaseSnapshot(snap)

	// The stuck call is still out: the next cycle must fail the source
	// fast instead of entering it a second time.
	snap = c.RunCycle(context.Background())
	if !snap.Flags.Failed(0) {
		t.Error("source with an in-flight call not flagged")
	}
	if calls != 1 {
		t.Errorf("Collect entered %d times while stuck, want 1", calls)
	}
	models.ReleaseSnapshot(snap)

	// Let the stuck call finish; the cycle after that runs it fresh.
	close(release)
	time.Sleep(20 * time.Millisecond)
	snap = c.RunCycle(context.Background())
	if snap.Flags.Failed(0) {
		t.Error("recovered source still flagged")
	}
	if calls != 2 {
		t.Errorf("Collect calls = %d, want 2 after recovery", calls)
	}
	models.ReleaseSnapshot(snap)
}

func TestRunCycle_OverBudgetStamped(t *testing.T) {
	cfg := testCfg(t)
	cfg.Collection.CycleBudget = config.Duration{Duration: time.Nanosecond}
	c := New([]source.Source{fixed("memory", source.MemorySample{})}, testIdent(), cfg, zap.NewNop())

	snap := c.RunCycle(context.Background())
	if !snap.OverBudget {
		t.Error("OverBudget = false with a 1ns cycle budget")
	}
	if snap.Elapsed <= 0 {
		t.Error("Elapsed not stamped")
	}
	models.ReleaseSnapshot(snap)
}

func TestRunCycle_UptimeFallsBackToBootTime(t *testing.T) {
	ident := testIdent()
	ident.BootTime = uint64(time.Now().Add(-time.Hour).Unix())
	c := New([]source.Source{fixed("memory", source.MemorySample{})}, ident, testCfg(t), zap.NewNop())

	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	if snap.System.UptimeSec < 3598 || snap.System.UptimeSec > 3602 {
		t.Errorf("UptimeSec = %d, want ~3600 from boot time", snap.System.UptimeSec)
	}
}

func TestRunCycle_ProcCountFallsBackToEntities(t *testing.T) {
	c := New([]source.Source{
		fixed("process", source.ProcessSample{Entities: []models.EntityRecord{{PID: 1}, {PID: 2}, {PID: 3}}}),
	}, testIdent(), testCfg(t), zap.NewNop())

	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	if snap.System.ProcCount != 3 {
		t.Errorf("ProcCount = %d, want entity count fallback 3", snap.System.ProcCount)
	}
}

func TestRunCycle_UnknownPayloadIgnored(t *testing.T) {
	c := New([]source.Source{fixed("odd", "not a sample")}, testIdent(), testCfg(t), zap.NewNop())

	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	if snap.Flags.Any() {
		t.Error("unrecognized payload should not set a failure flag")
	}
}

func TestRunCycle_ErrorsWrapSentinels(t *testing.T) {
	c := New([]source.Source{
		failing("gone", fmt.Errorf("probe: %w", source.ErrPermission)),
	}, testIdent(), testCfg(t), zap.NewNop())

	snap := c.RunCycle(context.Background())
	defer models.ReleaseSnapshot(snap)

	if !snap.Flags.Failed(0) {
		t.Error("failing source not flagged")
	}
}

func TestRunCycle_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New([]source.Source{
		&fakeSource{name: "ctxaware", available: true, collect: func(ctx context.Context) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("aborted: %w", err)
			}
			return source.MemorySample{}, nil
		}},
	}, testIdent(), testCfg(t), zap.NewNop())

	snap := c.RunCycle(ctx)
	defer models.ReleaseSnapshot(snap)

	if !snap.Flags.Failed(0) {
		t.Error("source aborted by cancellation should be flagged")
	}
}

func TestErrorsIs_Timeout(t *testing.T) {
	slow := &fakeSource{name: "slow", available: true, collect: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return nil, ctx.Err()
	}}
	cfg := testCfg(t)
	cfg.Collection.SourceBudget = config.Duration{Duration: 10 * time.Millisecond}
	c := New([]source.Source{slow}, testIdent(), cfg, zap.NewNop())

	out, err := c.collectOne(context.Background(), &c.sources[0])
	if out != nil {
		t.Errorf("payload = %v, want nil on timeout", out)
	}
	if !errors.Is(err, source.ErrTimeout) {
		t.Errorf("error = %v, want wrapped ErrTimeout", err)
	}
}
