// Package source defines the metric source adapter contract and the adapters
// that wrap OS introspection facilities: process enumeration, CPU/memory/IO
// counters, GPU memory queries, and kernel statistics. Each adapter queries
// exactly one facility and is independently fallible; a failed adapter costs
// one cycle of its data, never the cycle itself.
package source

import (
	"context"
	"errors"
)

// Source is the contract every metric source adapter implements.
//
// Adapters are stateless across cycles: counters are returned cumulative and
// all delta/rate derivation happens downstream in the collector. An adapter
// may keep internal scratch buffers for allocation reuse, in which case the
// returned payload is only valid until its next Collect call; the collector
// merges payloads into the snapshot before invoking the next source, so this
// is safe under the pipeline's sequential orchestration.
type Source interface {
	// Name returns the unique identifier for this source.
	Name() string

	// Collect queries the OS facility and returns a source-specific sample
	// payload. The context carries the per-source budget; adapters should
	// honor cancellation, though the collector's watchdog guarantees the
	// cycle proceeds even if they do not.
	Collect(ctx context.Context) (any, error)

	// Available reports whether this source can run on the current
	// platform. Unavailable sources are not registered.
	Available() bool
}

// Sentinel failure reasons. Adapters wrap these with %w so the collector can
// classify failures while logging the adapter-specific detail.
var (
	// ErrUnavailable means the backing OS facility is missing or not
	// functional on this host (e.g. no NVML library, no /proc).
	ErrUnavailable = errors.New("source unavailable")

	// ErrPermission means the facility exists but access was denied.
	ErrPermission = errors.New("source permission denied")

	// ErrTimeout means the source did not return within its sub-budget.
	// It is applied by the collector's watchdog, not by adapters.
	ErrTimeout = errors.New("source timed out")
)
