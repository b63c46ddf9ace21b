// Host identity: static facts about the machine, read once at startup for
// the session log line and for boot-time-derived uptime. Not a Source: none
// of this changes between cycles, so it never joins the collection loop.
package source

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// HostIdentity holds static host facts.
type HostIdentity struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	Arch            string
	CPUCount        int
	BootTime        uint64 // unix seconds
}

// ReadHostIdentity gathers the static host facts.
func ReadHostIdentity(ctx context.Context) (HostIdentity, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostIdentity{}, fmt.Errorf("hostinfo: %w", err)
	}

	// Logical core count normalizes per-entity CPU fractions. A host that
	// cannot report it still gets identity data; the collector falls back
	// to one core.
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores < 1 {
		cores = 1
	}

	return HostIdentity{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            info.KernelArch,
		CPUCount:        cores,
		BootTime:        info.BootTime,
	}, nil
}
