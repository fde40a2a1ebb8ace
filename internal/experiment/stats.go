package experiment

import (
	"math"
	"sort"
)

// RTStats is the mean and population standard deviation of a set of reaction
// times, in milliseconds, rounded to two decimals.
type RTStats struct {
	Mean   float64 `json:"mean_ms" bson:"mean_ms"`
	StdDev float64 `json:"stddev_ms" bson:"stddev_ms"`
	Count  int     `json:"count" bson:"count"`
}

// Aggregator collects reaction times. Entries without a value ("n/a") are
// skipped.
type Aggregator struct {
	values []float64
}

func (a *Aggregator) Add(rt ReactionTime) {
	if !rt.Valid {
		return
	}
	a.values = append(a.values, float64(rt.Ms))
}

func (a *Aggregator) Len() int { return len(a.values) }

// Stats returns the summary of everything added so far.
func (a *Aggregator) Stats() RTStats {
	return Summarize(a.values)
}

// Summarize computes mean and population standard deviation. Both are 0 for
// an empty set. Values are summed in sorted order so the result does not
// depend on insertion order.
func Summarize(values []float64) RTStats {
	if len(values) == 0 {
		return RTStats{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sumSquaredDiff float64
	for _, v := range sorted {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	variance := sumSquaredDiff / float64(len(sorted))

	return RTStats{
		Mean:   round2(mean),
		StdDev: round2(math.Sqrt(variance)),
		Count:  len(sorted),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
