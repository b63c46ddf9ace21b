package history

import "time"

// Set is the fixed, ordered collection of Series the pipeline tracks. All
// series share one capacity so a retention change resizes them together.
// Like Series, a Set belongs to the consumer goroutine.
type Set struct {
	names  []string
	series []*Series
}

// NewSet creates one Series per name, each with the given capacity. Order
// is preserved: PushAll takes values in the same order.
func NewSet(capacity int, names ...string) *Set {
	set := &Set{
		names:  make([]string, len(names)),
		series: make([]*Series, len(names)),
	}
	copy(set.names, names)
	for i, name := range names {
		set.series[i] = NewSeries(name, capacity)
	}
	return set
}

// Get returns the series with the given name, or nil if the set does not
// track it.
func (s *Set) Get(name string) *Series {
	for i, n := range s.names {
		if n == name {
			return s.series[i]
		}
	}
	return nil
}

// Names returns the tracked metric names in push order.
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// PushAll records one sample per series, values aligned with Names order.
// Extra values are ignored; missing ones leave their series untouched.
func (s *Set) PushAll(at time.Time, values []float64) {
	n := len(values)
	if n > len(s.series) {
		n = len(s.series)
	}
	for i := 0; i < n; i++ {
		s.series[i].Push(at, values[i])
	}
}

// ResizeAll resets every series to the new capacity, discarding retained
// samples (the documented retention-change discontinuity).
func (s *Set) ResizeAll(capacity int) {
	for _, sr := range s.series {
		sr.Resize(capacity)
	}
}

// Cap returns the shared ring capacity.
func (s *Set) Cap() int {
	if len(s.series) == 0 {
		return 0
	}
	return s.series[0].Cap()
}

// FootprintBytes estimates the fixed memory cost of all rings.
func (s *Set) FootprintBytes() uint64 {
	var total uint64
	for _, sr := range s.series {
		total += uint64(sr.Cap()) * sampleBytes
	}
	return total
}
