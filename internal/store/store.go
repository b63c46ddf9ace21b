// Package store implements the entity store: a fixed-capacity,
// column-oriented cache holding the most recently applied snapshot's
// per-process data. Parallel arrays keep scans cache-friendly and point
// lookups go through a binary search over the sorted PID column.
//
// The store has exactly one writer and one reader: the consumer goroutine.
// Ownership of incoming snapshots is transferred through the channel
// package, so no locking is needed or present here.
package store

import (
	"cmp"
	"slices"
	"time"

	"github.com/procscope/agent/internal/models"
)

// Capacity is the maximum number of entities the store retains. It is a
// compile-time constant: the column arrays are sized by it once and never
// grow, and Update never allocates.
const Capacity = 2048

// bytesPerEntity is the summed width of one entity's column cells: pid,
// ppid, name header, state, cpu, mem, read, write, threads, handles.
// Name backing bytes are not counted; process names are short and shared
// with the snapshot's strings.
const bytesPerEntity = 4 + 4 + 16 + 1 + 8 + 8 + 8 + 8 + 4 + 4

// Store is the column-oriented entity cache. The zero value is not ready
// for use; call New.
type Store struct {
	count      int
	truncated  bool
	capturedAt time.Time
	seq        uint64
	flags      models.SourceFlags

	ids     [Capacity]int32
	ppids   [Capacity]int32
	names   [Capacity]string
	states  [Capacity]models.ProcState
	cpu     [Capacity]float64
	mem     [Capacity]uint64
	read    [Capacity]uint64
	write   [Capacity]uint64
	threads [Capacity]int32
	handles [Capacity]int32
}

// New allocates the store. All columns are reserved up front; nothing else
// is ever allocated on its behalf.
func New() *Store {
	return &Store{}
}

// Update replaces the store's contents with the snapshot's entities. The
// snapshot's entity slice is reordered in place during selection and must
// not be interpreted by the caller afterwards; release the snapshot once
// its system metrics have been read.
//
// When the snapshot holds more than Capacity entities the store keeps the
// highest-resource ones (CPU fraction first, memory as the tiebreak) and
// records the truncation.
//
// Update never fails and never allocates.
func (s *Store) Update(snap *models.Snapshot) {
	ents := snap.Entities

	s.truncated = len(ents) > Capacity
	if s.truncated {
		slices.SortFunc(ents, func(a, b models.EntityRecord) int {
			if c := cmp.Compare(b.CPUFraction, a.CPUFraction); c != 0 {
				return c
			}
			return cmp.Compare(b.MemoryBytes, a.MemoryBytes)
		})
		ents = ents[:Capacity]
	}

	// PID order enables the binary-search lookup.
	slices.SortFunc(ents, func(a, b models.EntityRecord) int {
		return cmp.Compare(a.PID, b.PID)
	})

	for i := range ents {
		e := &ents[i]
		s.ids[i] = e.PID
		s.ppids[i] = e.PPID
		s.names[i] = e.Name
		s.states[i] = e.State
		s.cpu[i] = e.CPUFraction
		s.mem[i] = e.MemoryBytes
		s.read[i] = e.ReadBytes
		s.write[i] = e.WriteBytes
		s.threads[i] = e.Threads
		s.handles[i] = e.Handles
	}
	s.count = len(ents)
	s.capturedAt = snap.CapturedAt
	s.seq = snap.Seq
	s.flags = snap.Flags
}

// Count returns the number of live entities.
func (s *Store) Count() int { return s.count }

// Truncated reports whether the last applied snapshot exceeded Capacity.
func (s *Store) Truncated() bool { return s.truncated }

// CapturedAt returns the capture time of the applied snapshot.
func (s *Store) CapturedAt() time.Time { return s.capturedAt }

// Seq returns the cycle sequence number of the applied snapshot.
func (s *Store) Seq() uint64 { return s.seq }

// Flags returns the source failure bitset of the applied snapshot.
func (s *Store) Flags() models.SourceFlags { return s.flags }

// GetByID looks up an entity by PID. O(log n) over the sorted PID column.
func (s *Store) GetByID(pid int32) (View, bool) {
	i, ok := slices.BinarySearch(s.ids[:s.count], pid)
	if !ok {
		return View{}, false
	}
	return View{s: s, i: i}, true
}

// Iterate returns a scanner over all live entities in ascending PID order:
//
//	for it := s.Iterate(); it.Next(); {
//		v := it.View()
//	}
//
// Views are valid until the next Update. Call Iterate again to restart.
func (s *Store) Iterate() Iter {
	return Iter{s: s, i: -1}
}

// Filter returns a scanner over the entities matching pred, in ascending
// PID order. The predicate runs lazily during Next; no index slice is
// materialized.
func (s *Store) Filter(pred func(View) bool) FilterIter {
	return FilterIter{s: s, pred: pred, i: -1}
}

// FootprintBytes estimates the store's fixed memory cost.
func FootprintBytes() uint64 {
	return Capacity * bytesPerEntity
}

// Iter is a restartable scanner over the store. See Store.Iterate.
type Iter struct {
	s *Store
	i int
}

// Next advances to the next entity and reports whether one exists.
func (it *Iter) Next() bool {
	it.i++
	return it.i < it.s.count
}

// View returns the current entity. Valid only after Next returned true.
func (it *Iter) View() View { return View{s: it.s, i: it.i} }

// FilterIter is a restartable scanner over matching entities. See
// Store.Filter.
type FilterIter struct {
	s    *Store
	pred func(View) bool
	i    int
}

// Next advances to the next matching entity and reports whether one exists.
func (f *FilterIter) Next() bool {
	for f.i+1 < f.s.count {
		f.i++
		if f.pred(View{s: f.s, i: f.i}) {
			return true
		}
	}
	f.i = f.s.count
	return false
}

// Index returns the current entity's column index.
func (f *FilterIter) Index() int { return f.i }

// View returns the current entity. Valid only after Next returned true.
func (f *FilterIter) View() View { return View{s: f.s, i: f.i} }

// View is a read-only handle on one store row. Views alias the store's
// columns directly: they are valid until the next Update and cost nothing
// to copy.
type View struct {
	s *Store
	i int
}

// PID returns the process identifier.
func (v View) PID() int32 { return v.s.ids[v.i] }

// PPID returns the parent process identifier.
func (v View) PPID() int32 { return v.s.ppids[v.i] }

// Name returns the short process name.
func (v View) Name() string { return v.s.names[v.i] }

// State returns the normalized scheduler state.
func (v View) State() models.ProcState { return v.s.states[v.i] }

// CPUFraction returns the share of machine CPU consumed since the previous
// cycle, in [0,1].
func (v View) CPUFraction() float64 { return v.s.cpu[v.i] }

// MemoryBytes returns the resident set size.
func (v View) MemoryBytes() uint64 { return v.s.mem[v.i] }

// ReadBytes returns the cumulative I/O read counter.
func (v View) ReadBytes() uint64 { return v.s.read[v.i] }

// WriteBytes returns the cumulative I/O write counter.
func (v View) WriteBytes() uint64 { return v.s.write[v.i] }

// Threads returns the thread count, -1 when unknown.
func (v View) Threads() int32 { return v.s.threads[v.i] }

// Handles returns the open descriptor count, -1 when unknown.
func (v View) Handles() int32 { return v.s.handles[v.i] }

// Record copies the row back out as an EntityRecord. Only the columns the
// store retains are filled; the cumulative CPUTime counter stays with the
// collector, which needs it for delta derivation.
func (v View) Record() models.EntityRecord {
	return models.EntityRecord{
		PID:         v.PID(),
		PPID:        v.PPID(),
		Name:        v.Name(),
		State:       v.State(),
		CPUFraction: v.CPUFraction(),
		MemoryBytes: v.MemoryBytes(),
		ReadBytes:   v.ReadBytes(),
		WriteBytes:  v.WriteBytes(),
		Threads:     v.Threads(),
		Handles:     v.Handles(),
	}
}
