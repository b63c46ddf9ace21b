// CPU time source: cumulative busy/total CPU seconds, overall and
// per core. Uses gopsutil for cross-platform CPU metrics. Utilization
// percentages are derived downstream by diffing consecutive cycles, so this
// source never sleeps to measure.
package source

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUTimes holds cumulative CPU seconds split into busy and total.
type CPUTimes struct {
	Busy  float64
	Total float64
}

// CPUSample is the cpu source payload: machine-wide cumulative times plus
// one entry per logical core. PerCore is scratch-backed and valid until the
// source's next Collect.
type CPUSample struct {
	Total   CPUTimes
	PerCore []CPUTimes
}

// CPUSource collects cumulative CPU times.
type CPUSource struct {
	perCore []CPUTimes
}

// NewCPUSource creates a new CPU time source.
func NewCPUSource() *CPUSource {
	return &CPUSource{}
}

// Name returns the source identifier.
func (s *CPUSource) Name() string { return "cpu" }

// Collect gathers cumulative busy/total CPU seconds for the whole machine
// and for each logical core.
func (s *CPUSource) Collect(ctx context.Context) (any, error) {
	total, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("cpu: aggregate times: %w", err)
	}
	if len(total) == 0 {
		return nil, fmt.Errorf("cpu: aggregate times: %w", ErrUnavailable)
	}

	sample := CPUSample{Total: splitTimes(total[0])}

	// Per-core counters are best effort; the aggregate alone is enough
	// for the total utilization series.
	perCore, err := cpu.TimesWithContext(ctx, true)
	if err == nil {
		s.perCore = s.perCore[:0]
		for _, t := range perCore {
			s.perCore = append(s.perCore, splitTimes(t))
		}
		sample.PerCore = s.perCore
	}

	return sample, nil
}

// Available returns true; CPU times exist on all platforms.
func (s *CPUSource) Available() bool { return true }

// splitTimes reduces a gopsutil times stat to busy and total seconds.
// Idle and iowait count as not busy; everything else is work.
func splitTimes(t cpu.TimesStat) CPUTimes {
	idle := t.Idle + t.Iowait
	busy := t.User + t.System + t.Nice + t.Irq + t.Softirq + t.Steal + t.Guest + t.GuestNice
	return CPUTimes{Busy: busy, Total: busy + idle}
}
