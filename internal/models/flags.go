package models

import (
	"math/bits"
	"strconv"
)

// SourceFlags is a per-cycle failure bitset: bit i set means the source at
// registration index i failed during that cycle. A zero value means every
// source delivered.
type SourceFlags uint32

// MaxSources is the number of source slots a SourceFlags value can track.
const MaxSources = 32

// MarkFailed sets the failure bit for the source at index i.
func (f *SourceFlags) MarkFailed(i int) {
	if i >= 0 && i < MaxSources {
		*f |= 1 << uint(i)
	}
}

// Failed reports whether the source at index i failed.
func (f SourceFlags) Failed(i int) bool {
	if i < 0 || i >= MaxSources {
		return false
	}
	return f&(1<<uint(i)) != 0
}

// Any reports whether any source failed.
func (f SourceFlags) Any() bool { return f != 0 }

// FailedCount returns the number of failed sources.
func (f SourceFlags) FailedCount() int { return bits.OnesCount32(uint32(f)) }

// String renders the bitset as a hex literal for logs.
func (f SourceFlags) String() string {
	return "0x" + strconv.FormatUint(uint64(f), 16)
}
