// Memory source: virtual memory and swap totals.
// Uses gopsutil for cross-platform memory metrics.
package source

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemorySample is the memory source payload.
type MemorySample struct {
	Used      uint64
	Total     uint64
	Available uint64
	SwapUsed  uint64
	SwapTotal uint64
}

// MemorySource collects RAM and swap usage.
type MemorySource struct{}

// NewMemorySource creates a new memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Name returns the source identifier.
func (s *MemorySource) Name() string { return "memory" }

// Collect gathers memory usage data. Swap counters are best effort; a host
// without swap accounting still yields RAM data.
func (s *MemorySource) Collect(ctx context.Context) (any, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory: virtual memory: %w", err)
	}

	sample := MemorySample{
		Used:      v.Used,
		Total:     v.Total,
		Available: v.Available,
	}

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		sample.SwapUsed = sw.Used
		sample.SwapTotal = sw.Total
	}

	return sample, nil
}

// Available returns true; memory metrics exist on all platforms.
func (s *MemorySource) Available() bool { return true }
