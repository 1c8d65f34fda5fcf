package queue

import (
	"sort"
	"time"
)

// AHTOptions bound the average handling time estimate.
type AHTOptions struct {
	Min           time.Duration
	Max           time.Duration
	Default       time.Duration
	OutlierFactor float64
}

// AverageHandlingTime averages samples after discarding those further than
// OutlierFactor from the median, then clamps the result to [Min, Max].
// Without samples it returns Default, also clamped.
func AverageHandlingTime(samples []time.Duration, opts AHTOptions) time.Duration {
	avg := opts.Default
	if kept := filterOutliers(samples, opts.OutlierFactor); len(kept) > 0 {
		var sum time.Duration
		for _, d := range kept {
			sum += d
		}
		avg = sum / time.Duration(len(kept))
	}
	if opts.Min > 0 && avg < opts.Min {
		avg = opts.Min
	}
	if opts.Max > 0 && avg > opts.Max {
		avg = opts.Max
	}
	return avg
}

func filterOutliers(samples []time.Duration, factor float64) []time.Duration {
	if len(samples) == 0 {
		return nil
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}
	if factor <= 1 || median <= 0 {
		return sorted
	}
	lo := time.Duration(float64(median) / factor)
	hi := time.Duration(float64(median) * factor)
	kept := sorted[:0:0]
	for _, d := range sorted {
		if d >= lo && d <= hi {
			kept = append(kept, d)
		}
	}
	return kept
}

// EstimateWait returns position x aht.
func EstimateWait(position int, aht time.Duration) time.Duration {
	if position <= 0 {
		return 0
	}
	return time.Duration(position) * aht
}
