// Package models defines the telemetry data structures that flow through the
// pipeline: the per-cycle Snapshot, its per-process EntityRecords, the
// system-wide scalar metrics, and the per-source failure bitset.
package models

import (
	"sync"
	"time"
)

// Snapshot is one immutable collection cycle's worth of telemetry.
// It is produced by the collector, handed to the consumer through the
// transfer channel, consumed exactly once by the entity store's Update,
// and then returned to the pool via ReleaseSnapshot.
type Snapshot struct {
	// Seq is a monotonically increasing cycle counter, starting at 1.
	Seq uint64

	// CapturedAt is the cycle start time. Values produced by time.Now
	// carry Go's monotonic clock reading, so ordering comparisons are
	// immune to wall-clock adjustments.
	CapturedAt time.Time

	// Elapsed is the wall time the collection cycle took.
	Elapsed time.Duration

	// OverBudget is set when Elapsed exceeded the configured cycle budget.
	// The snapshot is still delivered.
	OverBudget bool

	// Entities holds one record per enumerated process, in enumeration
	// order. The entity store re-sorts and truncates on Update.
	Entities []EntityRecord

	// System holds the system-wide scalar metrics for this cycle.
	System SystemMetrics

	// Flags records which sources failed during this cycle.
	Flags SourceFlags
}

// SystemMetrics holds the system-wide scalar values sampled each cycle.
// Rate fields are derived by the collector from the previous cycle's
// cumulative counters; they are zero on the first cycle.
type SystemMetrics struct {
	// CPUTotalPercent is overall CPU utilization across all cores (0-100).
	CPUTotalPercent float64
	// CPUPerCorePercent is per-core utilization (0-100 each). The backing
	// array is owned by the snapshot and recycled with it.
	CPUPerCorePercent []float64

	MemUsed      uint64
	MemTotal     uint64
	MemAvailable uint64
	SwapUsed     uint64
	SwapTotal    uint64

	Load1  float64
	Load5  float64
	Load15 float64

	// UptimeSec is seconds since boot.
	UptimeSec uint64

	// Cumulative machine-wide I/O counters plus derived per-second rates.
	NetRxBytes     uint64
	NetTxBytes     uint64
	NetRxRate      float64
	NetTxRate      float64
	DiskReadBytes  uint64
	DiskWriteBytes uint64
	DiskReadRate   float64
	DiskWriteRate  float64

	// GPU memory occupancy and utilization; zero when no GPU source ran.
	GPUMemUsed     uint64
	GPUMemTotal    uint64
	GPUUtilPercent float64

	// ProcCount is the number of processes enumerated this cycle before
	// any store-side truncation.
	ProcCount int
}

// snapshotPool recycles Snapshot values between cycles so steady-state
// collection does not grow the heap: the entity slice and per-core slice
// reach process-count capacity once and are reused from then on.
var snapshotPool = sync.Pool{
	New: func() any { return new(Snapshot) },
}

// AcquireSnapshot returns a cleared Snapshot from the pool.
func AcquireSnapshot() *Snapshot {
	s := snapshotPool.Get().(*Snapshot)
	s.reset()
	return s
}

// ReleaseSnapshot returns a consumed Snapshot to the pool. The caller must
// not retain any reference to the snapshot or its slices afterwards.
func ReleaseSnapshot(s *Snapshot) {
	if s != nil {
		snapshotPool.Put(s)
	}
}

// reset clears the snapshot for reuse, keeping slice capacity.
func (s *Snapshot) reset() {
	perCore := s.System.CPUPerCorePercent[:0]
	entities := s.Entities[:0]
	*s = Snapshot{}
	s.System.CPUPerCorePercent = perCore
	s.Entities = entities
}
