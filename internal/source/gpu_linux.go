//go:build linux && cgo

// GPU memory source: NVIDIA device memory occupancy and utilization
// through NVML. Hosts without a usable NVML library simply report the source
// unavailable; nothing else in the pipeline depends on it.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// GPUSample is the gpu source payload: memory occupancy summed across all
// devices plus the highest device utilization.
type GPUSample struct {
	MemUsed     uint64
	MemTotal    uint64
	UtilPercent float64
}

// GPUSource collects NVIDIA GPU memory metrics via NVML.
type GPUSource struct {
	initialized bool
	devices     []nvml.Device
}

// NewGPUSource creates a GPU source, initializing NVML. On hosts without
// NVIDIA hardware or the NVML library the source reports unavailable.
func NewGPUSource() *GPUSource {
	s := &GPUSource{}

	if ret := nvml.Init(); !errors.Is(ret, nvml.SUCCESS) {
		return s
	}

	count, ret := nvml.DeviceGetCount()
	if !errors.Is(ret, nvml.SUCCESS) || count == 0 {
		nvml.Shutdown()
		return s
	}

	s.devices = make([]nvml.Device, 0, count)
	for i := 0; i < count; i++ {
		if dev, ret := nvml.DeviceGetHandleByIndex(i); errors.Is(ret, nvml.SUCCESS) {
			s.devices = append(s.devices, dev)
		}
	}
	s.initialized = len(s.devices) > 0
	if !s.initialized {
		nvml.Shutdown()
	}
	return s
}

// Name returns the source identifier.
func (s *GPUSource) Name() string { return "gpu" }

// Collect gathers memory occupancy across all devices and the busiest
// device's utilization.
func (s *GPUSource) Collect(ctx context.Context) (any, error) {
	if !s.initialized {
		return nil, fmt.Errorf("gpu: nvml not initialized: %w", ErrUnavailable)
	}

	var sample GPUSample
	queried := 0
	for _, dev := range s.devices {
		mem, ret := dev.GetMemoryInfo()
		if !errors.Is(ret, nvml.SUCCESS) {
			continue
		}
		sample.MemUsed += mem.Used
		sample.MemTotal += mem.Total
		queried++

		if util, ret := dev.GetUtilizationRates(); errors.Is(ret, nvml.SUCCESS) {
			if pct := float64(util.Gpu); pct > sample.UtilPercent {
				sample.UtilPercent = pct
			}
		}
	}
	if queried == 0 {
		return nil, fmt.Errorf("gpu: no device answered memory query: %w", ErrUnavailable)
	}

	return sample, nil
}

// Available reports whether NVML initialized with at least one device.
func (s *GPUSource) Available() bool { return s.initialized }

// Close shuts NVML down. Safe to call when initialization failed.
func (s *GPUSource) Close() error {
	if s.initialized {
		nvml.Shutdown()
		s.initialized = false
	}
	return nil
}
