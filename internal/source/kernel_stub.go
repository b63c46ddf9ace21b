//go:build !linux

package source

import (
	"context"
	"fmt"
)

// KernelSample is the kernel source payload.
type KernelSample struct {
	Procs     int
	Load1     float64
	Load5     float64
	Load15    float64
	UptimeSec uint64
}

// KernelSource is a stub on platforms without sysinfo(2); it reports
// unavailable and is never registered. Uptime still reaches the snapshot
// because the collector derives it from the boot time in the host identity.
type KernelSource struct{}

// NewKernelSource creates the stub kernel source.
func NewKernelSource() *KernelSource { return &KernelSource{} }

// Name returns the source identifier.
func (s *KernelSource) Name() string { return "kernel" }

// Collect always fails on this platform.
func (s *KernelSource) Collect(ctx context.Context) (any, error) {
	return nil, fmt.Errorf("kernel: sysinfo unsupported on this platform: %w", ErrUnavailable)
}

// Available returns false on this platform.
func (s *KernelSource) Available() bool { return false }
