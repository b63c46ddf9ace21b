package history

import (
	"math"
	"sort"
)

// Aggregate helpers over a Range. All of them are read-only passes over the
// window; none touch the underlying Series. They return ok=false on an
// empty range. These run at renderer cadence, not on the collection path,
// so Percentile may allocate its sort scratch.

// Min returns the smallest value in the range.
func (r Range) Min() (float64, bool) {
	if r.n == 0 {
		return 0, false
	}
	min := math.Inf(1)
	for it := r.Iter(); it.Next(); {
		if v := it.Sample().Value; v < min {
			min = v
		}
	}
	return min, true
}

// Max returns the largest value in the range.
func (r Range) Max() (float64, bool) {
	if r.n == 0 {
		return 0, false
	}
	max := math.Inf(-1)
	for it := r.Iter(); it.Next(); {
		if v := it.Sample().Value; v > max {
			max = v
		}
	}
	return max, true
}

// Avg returns the arithmetic mean of the range.
func (r Range) Avg() (float64, bool) {
	if r.n == 0 {
		return 0, false
	}
	sum := 0.0
	for it := r.Iter(); it.Next(); {
		sum += it.Sample().Value
	}
	return sum / float64(r.n), true
}

// Percentile returns the p-th percentile (0 < p ≤ 100) of the range using
// the nearest-rank method.
func (r Range) Percentile(p float64) (float64, bool) {
	if r.n == 0 || p <= 0 || p > 100 {
		return 0, false
	}
	values := make([]float64, 0, r.n)
	for it := r.Iter(); it.Next(); {
		values = append(values, it.Sample().Value)
	}
	sort.Float64s(values)
	rank := int(math.Ceil(p / 100 * float64(len(values))))
	return values[rank-1], true
}
