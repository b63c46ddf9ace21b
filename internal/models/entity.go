package models

import "strings"

// EntityRecord describes one monitored process for one cycle. Records are
// small copyable values: the entity store copies them into its column
// arrays, so nothing outside a snapshot ever aliases one.
type EntityRecord struct {
	// PID is the stable identifier the store sorts and searches by.
	PID  int32
	PPID int32

	// Name is the short process name (comm), not the full command line.
	Name string

	// State is the normalized scheduler state.
	State ProcState

	// CPUTime is cumulative CPU seconds consumed by the process, as
	// reported by the process source. The collector derives CPUFraction
	// from consecutive cycles' CPUTime readings.
	CPUTime float64

	// CPUFraction is the share of total machine CPU capacity consumed
	// since the previous cycle, in [0,1]. Zero on the first cycle.
	CPUFraction float64

	// MemoryBytes is resident set size.
	MemoryBytes uint64

	// ReadBytes and WriteBytes are cumulative I/O counters.
	ReadBytes  uint64
	WriteBytes uint64

	// Threads is the thread count; Handles is the open file descriptor
	// count on unix (handle count on Windows). Negative means unknown.
	Threads int32
	Handles int32
}

// ProcState is a normalized process scheduler state.
type ProcState uint8

const (
	StateUnknown ProcState = iota
	StateRunning
	StateSleeping
	StateIdle
	StateStopped
	StateZombie
)

// String returns the lowercase display name for the state.
func (p ProcState) String() string {
	switch p {
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateIdle:
		return "idle"
	case StateStopped:
		return "stopped"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// procStates maps raw status strings, as reported by the various platform
// backends, to a consistent state used across all platforms.
var procStates = map[string]ProcState{
	"running":               StateRunning,
	"sleeping":              StateSleeping,
	"idle":                  StateIdle,
	"stopped":               StateStopped,
	"zombie":                StateZombie,
	"wait":                  StateSleeping,
	"lock":                  StateSleeping,
	"sleep":                 StateSleeping,
	"disk-sleep":            StateSleeping,
	"tracing-stop":          StateStopped,
	"dead":                  StateZombie,
	"wake-kill":             StateSleeping,
	"waking":                StateRunning,
	"parked":                StateIdle,
	"idle-interrupt":        StateIdle,
	"suspended":             StateStopped,
	"uninterruptible-sleep": StateSleeping,
}

// NormalizeState maps a raw status string to a ProcState. An empty or
// unrecognized status (common on Windows) is inferred from CPU activity.
func NormalizeState(raw string, cpuActive bool) ProcState {
	if raw != "" {
		if st, ok := procStates[strings.ToLower(strings.TrimSpace(raw))]; ok {
			return st
		}
		return StateUnknown
	}
	if cpuActive {
		return StateRunning
	}
	return StateIdle
}
