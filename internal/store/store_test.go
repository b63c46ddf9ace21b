package store

import (
	"testing"
	"time"

	"github.com/procscope/agent/internal/models"
)

// makeSnapshot builds a snapshot with n synthetic entities. PIDs are handed
// out in a scrambled order so tests exercise the store's own sorting.
func makeSnapshot(n int) *models.Snapshot {
	snap := &models.Snapshot{
		Seq:        1,
		CapturedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Entities:   make([]models.EntityRecord, 0, n),
	}
	for i := 0; i < n; i++ {
		// Deterministic scramble: stride through the PID space.
		pid := int32((i*7919)%n + 1)
		snap.Entities = append(snap.Entities, models.EntityRecord{
			PID:         pid,
			PPID:        1,
			Name:        "proc",
			State:       models.StateRunning,
			CPUFraction: float64(pid) / float64(n),
			MemoryBytes: uint64(pid) * 1024,
			ReadBytes:   uint64(pid),
			WriteBytes:  uint64(pid) * 2,
			Threads:     2,
			Handles:     8,
		})
	}
	return snap
}

func TestUpdate_CountWithinCapacity(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(100))
	if s.Count() != 100 {
		t.Errorf("Count() = %d, want 100", s.Count())
	}
	if s.Truncated() {
		t.Error("Truncated() = true for a snapshot within capacity")
	}
}

func TestUpdate_IDsSortedAscending(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(500))
	prev := int32(-1)
	for it := s.Iterate(); it.Next(); {
		pid := it.View().PID()
		if pid <= prev {
			t.Fatalf("PID order violated: %d after %d", pid, prev)
		}
		prev = pid
	}
}

// A 3000-entity snapshot against Capacity 2048: the store must clamp the
// count, flag the truncation, and keep the highest-resource entities.
func TestUpdate_TruncatesOverCapacity(t *testing.T) {
	s := New()
	snap := makeSnapshot(3000)
	s.Update(snap)

	if s.Count() != Capacity {
		t.Fatalf("Count() = %d, want %d", s.Count(), Capacity)
	}
	if !s.Truncated() {
		t.Error("Truncated() = false, want true")
	}

	// CPUFraction in makeSnapshot grows with PID, so the survivors must
	// be exactly PIDs 953..3000 (the 2048 hottest).
	if _, ok := s.GetByID(952); ok {
		t.Error("GetByID(952) found a record that should have been dropped")
	}
	if _, ok := s.GetByID(953); !ok {
		t.Error("GetByID(953) missing: the hottest 2048 entities should survive")
	}
	if _, ok := s.GetByID(3000); !ok {
		t.Error("GetByID(3000) missing: the hottest entity should survive")
	}

	// And every view must stay in bounds.
	n := 0
	for it := s.Iterate(); it.Next(); {
		_ = it.View().Name()
		n++
	}
	if n != Capacity {
		t.Errorf("iterated %d entities, want %d", n, Capacity)
	}
}

func TestUpdate_TruncationTiebreakByMemory(t *testing.T) {
	s := New()
	snap := &models.Snapshot{Seq: 1, CapturedAt: time.Now()}
	// All entities tie on CPU; memory decides survival.
	for i := 0; i < Capacity+1; i++ {
		snap.Entities = append(snap.Entities, models.EntityRecord{
			PID:         int32(i + 1),
			CPUFraction: 0.5,
			MemoryBytes: uint64(i + 1),
		})
	}
	s.Update(snap)

	if _, ok := s.GetByID(1); ok {
		t.Error("lowest-memory entity should be the one dropped")
	}
	if _, ok := s.GetByID(int32(Capacity + 1)); !ok {
		t.Error("highest-memory entity should survive")
	}
}

func TestGetByID_MatchesLinearScan(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(300))

	for it := s.Iterate(); it.Next(); {
		want := it.View().Record()
		got, ok := s.GetByID(want.PID)
		if !ok {
			t.Fatalf("GetByID(%d) missing entity found by scan", want.PID)
		}
		if got.Record() != want {
			t.Fatalf("GetByID(%d) = %+v, want %+v", want.PID, got.Record(), want)
		}
	}
}

func TestGetByID_Missing(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(10))
	if _, ok := s.GetByID(9999); ok {
		t.Error("GetByID(9999) = ok for absent PID")
	}
	if _, ok := s.GetByID(0); ok {
		t.Error("GetByID(0) = ok for absent PID")
	}
}

func TestUpdate_Idempotent(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(50))

	var first []models.EntityRecord
	for it := s.Iterate(); it.Next(); {
		first = append(first, it.View().Record())
	}

	// Same snapshot value again: observable state must not change.
	s.Update(makeSnapshot(50))
	i := 0
	for it := s.Iterate(); it.Next(); i++ {
		if it.View().Record() != first[i] {
			t.Fatalf("record %d changed across identical updates", i)
		}
	}
	if i != len(first) {
		t.Errorf("count changed across identical updates: %d vs %d", i, len(first))
	}
}

func TestUpdate_ReplacesNotMerges(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(100))

	snap := &models.Snapshot{
		Seq:        2,
		CapturedAt: time.Now(),
		Entities: []models.EntityRecord{
			{PID: 42, Name: "online", CPUFraction: 0.1},
		},
	}
	s.Update(snap)

	if s.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (full replacement)", s.Count())
	}
	if _, ok := s.GetByID(1); ok {
		t.Error("entity from the previous snapshot survived the update")
	}
	if s.Seq() != 2 {
		t.Errorf("Seq() = %d, want 2", s.Seq())
	}
}

func TestUpdate_EmptySnapshot(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(10))
	s.Update(&models.Snapshot{Seq: 2, CapturedAt: time.Now()})
	if s.Count() != 0 {
		t.Errorf("Count() = %d after empty snapshot, want 0", s.Count())
	}
	if it := s.Iterate(); it.Next() {
		t.Error("Iterate() on empty store yielded an entity")
	}
}

func TestUpdate_CarriesSnapshotMetadata(t *testing.T) {
	s := New()
	snap := makeSnapshot(5)
	snap.Seq = 77
	snap.Flags.MarkFailed(2)
	s.Update(snap)

	if s.Seq() != 77 {
		t.Errorf("Seq() = %d, want 77", s.Seq())
	}
	if !s.Flags().Failed(2) {
		t.Error("Flags() lost the failure bit")
	}
	if !s.CapturedAt().Equal(snap.CapturedAt) {
		t.Errorf("CapturedAt() = %v, want %v", s.CapturedAt(), snap.CapturedAt)
	}
}

func TestFilter_LazyAndExact(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(200))

	calls := 0
	f := s.Filter(func(v View) bool {
		calls++
		return v.PID()%2 == 0
	})

	n := 0
	for f.Next() {
		if f.View().PID()%2 != 0 {
			t.Fatalf("filter yielded non-matching PID %d", f.View().PID())
		}
		if f.Index() < 0 || f.Index() >= s.Count() {
			t.Fatalf("Index() = %d out of range", f.Index())
		}
		n++
	}
	if n != 100 {
		t.Errorf("filter matched %d entities, want 100", n)
	}
	if calls != 200 {
		t.Errorf("predicate ran %d times, want exactly 200", calls)
	}
}

func TestFilter_NoMatch(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(20))
	f := s.Filter(func(View) bool { return false })
	if f.Next() {
		t.Error("filter with false predicate yielded an entity")
	}
	// A drained scanner stays drained.
	if f.Next() {
		t.Error("drained filter yielded an entity on repeat Next")
	}
}

func TestIterate_Restartable(t *testing.T) {
	s := New()
	s.Update(makeSnapshot(30))

	count := func() int {
		n := 0
		for it := s.Iterate(); it.Next(); {
			n++
		}
		return n
	}
	if count() != 30 || count() != 30 {
		t.Error("two consecutive iterations should both see 30 entities")
	}
}

func TestFootprintBytes(t *testing.T) {
	if FootprintBytes() != Capacity*bytesPerEntity {
		t.Errorf("FootprintBytes() = %d, want %d", FootprintBytes(), Capacity*bytesPerEntity)
	}
	// The memory ceiling is single-digit megabytes; the store's share must
	// stay well under it.
	if FootprintBytes() > 1<<21 {
		t.Errorf("store footprint %d exceeds 2MB", FootprintBytes())
	}
}
