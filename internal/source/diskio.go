// Disk I/O source: machine-wide cumulative read/write byte
// counters summed across physical devices. Uses gopsutil for cross-platform
// disk metrics. Per-second rates are derived downstream by the collector.
package source

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskIOSample is the diskio source payload.
type DiskIOSample struct {
	ReadBytes  uint64
	WriteBytes uint64
}

// DiskIOSource collects disk I/O counters.
type DiskIOSource struct{}

// NewDiskIOSource creates a new disk I/O source.
func NewDiskIOSource() *DiskIOSource {
	return &DiskIOSource{}
}

// Name returns the source identifier.
func (s *DiskIOSource) Name() string { return "diskio" }

// Collect gathers cumulative read/write byte counters across all devices.
func (s *DiskIOSource) Collect(ctx context.Context) (any, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("diskio: io counters: %w", err)
	}

	var sample DiskIOSample
	for _, c := range counters {
		sample.ReadBytes += c.ReadBytes
		sample.WriteBytes += c.WriteBytes
	}
	return sample, nil
}

// Available returns true; disk counters exist on all platforms.
func (s *DiskIOSource) Available() bool { return true }
