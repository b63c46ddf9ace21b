//go:build !linux || !cgo

package source

import (
	"context"
	"fmt"
)

// GPUSample is the gpu source payload: memory occupancy summed across all
// devices plus the highest device utilization.
type GPUSample struct {
	MemUsed     uint64
	MemTotal    uint64
	UtilPercent float64
}

// GPUSource is a stub on platforms without NVML support; it reports
// unavailable and is never registered.
type GPUSource struct{}

// NewGPUSource creates the stub GPU source.
func NewGPUSource() *GPUSource { return &GPUSource{} }

// Name returns the source identifier.
func (s *GPUSource) Name() string { return "gpu" }

// Collect always fails on this platform.
func (s *GPUSource) Collect(ctx context.Context) (any, error) {
	return nil, fmt.Errorf("gpu: nvml unsupported on this platform: %w", ErrUnavailable)
}

// Available returns false on this platform.
func (s *GPUSource) Available() bool { return false }

// Close is a no-op on this platform.
func (s *GPUSource) Close() error { return nil }
