// Package history provides fixed-capacity time-series retention for the
// system-wide scalar metrics. Each tracked metric gets one Series: a ring
// buffer of (timestamp, value) samples where pushing into a full ring
// overwrites the oldest sample. Retention is bounded by construction; the
// rings are the only history the pipeline keeps.
package history

import (
	"sort"
	"time"
)

// Sample is one recorded measurement.
type Sample struct {
	At    time.Time
	Value float64
}

// sampleBytes is the in-memory cost of one Sample: a time.Time (wall,
// monotonic, location pointer) plus the float64 value.
const sampleBytes = 24 + 8

// Series is a fixed-capacity ring buffer of samples for one scalar metric.
// Samples must be pushed in non-decreasing time order; the consumer pushes
// them in collection order, which guarantees that. A Series is owned by the
// consumer goroutine and is not safe for concurrent use.
type Series struct {
	name string
	data []Sample
	head int // next write position
	n    int // live samples, ≤ len(data)
}

// NewSeries creates a ring holding at most capacity samples.
func NewSeries(name string, capacity int) *Series {
	if capacity < 1 {
		capacity = 1
	}
	return &Series{
		name: name,
		data: make([]Sample, capacity),
	}
}

// Name returns the metric name this series tracks.
func (s *Series) Name() string { return s.name }

// Len returns the number of retained samples.
func (s *Series) Len() int { return s.n }

// Cap returns the ring capacity.
func (s *Series) Cap() int { return len(s.data) }

// Push records one sample, overwriting the oldest when the ring is full.
func (s *Series) Push(at time.Time, value float64) {
	s.data[s.head] = Sample{At: at, Value: value}
	s.head = (s.head + 1) % len(s.data)
	if s.n < len(s.data) {
		s.n++
	}
}

// Resize replaces the ring with an empty one of the given capacity. All
// retained samples are discarded: a retention change is a documented
// discontinuity in the trend views, not a data migration.
func (s *Series) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	s.data = make([]Sample, capacity)
	s.head = 0
	s.n = 0
}

// at returns the i-th oldest retained sample, i in [0, n).
func (s *Series) at(i int) Sample {
	idx := s.head - s.n + i
	if idx < 0 {
		idx += len(s.data)
	}
	return s.data[idx]
}

// Window returns the trailing window of samples whose timestamps lie within
// d of the newest sample: every sample with At > newest.At - d, oldest
// first. The result is a view over the ring, valid until the next Push or
// Resize; it costs no allocation.
func (s *Series) Window(d time.Duration) Range {
	if s.n == 0 {
		return Range{}
	}
	newest := s.at(s.n - 1).At
	cutoff := newest.Add(-d)
	// Timestamps are non-decreasing, so the window start is found by
	// binary search: the first retained sample after the cutoff.
	start := sort.Search(s.n, func(i int) bool {
		return s.at(i).At.After(cutoff)
	})
	return Range{s: s, start: start, n: s.n - start}
}

// All returns the whole retained series, oldest first.
func (s *Series) All() Range {
	return Range{s: s, start: 0, n: s.n}
}

// Range is a finite, restartable view over a contiguous run of samples in a
// Series. The zero value is an empty range.
type Range struct {
	s     *Series
	start int
	n     int
}

// Len returns the number of samples in the range.
func (r Range) Len() int { return r.n }

// At returns the i-th sample of the range, i in [0, Len()).
func (r Range) At(i int) Sample { return r.s.at(r.start + i) }

// Iter returns a scanner over the range. Iterating never mutates the range,
// so calling Iter again restarts from the beginning.
func (r Range) Iter() RangeIter { return RangeIter{r: r, i: -1} }

// RangeIter walks a Range oldest-to-newest:
//
//	for it := r.Iter(); it.Next(); {
//		s := it.Sample()
//	}
type RangeIter struct {
	r Range
	i int
}

// Next advances to the next sample and reports whether one exists.
func (it *RangeIter) Next() bool {
	it.i++
	return it.i < it.r.n
}

// Sample returns the current sample. Valid only after Next returned true.
func (it *RangeIter) Sample() Sample { return it.r.At(it.i) }
