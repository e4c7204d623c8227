// Package segment turns model-provided time ranges into a cut list.
//
// Everything here is pure: no I/O, no clocks, no logging. The pipeline feeds
// ParseResponse output into Sanitize together with the probed source duration.
package segment

import (
	"math"
	"sort"
)

// TimeRange is a validated interval in seconds with Start < End.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// RawRange is one entry of model output before validation. A nil field means
// the entry was missing it or it was not a number.
type RawRange struct {
	Start *float64
	End   *float64
}

// Raw builds a fully populated RawRange.
func Raw(start, end float64) RawRange {
	return RawRange{Start: &start, End: &end}
}

// FromTimeRanges lifts a cut list back to raw input.
func FromTimeRanges(ranges []TimeRange) []RawRange {
	out := make([]RawRange, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, Raw(r.Start, r.End))
	}
	return out
}

// Sanitize drops malformed entries, clamps the rest to [0, totalDuration],
// sorts them by start and merges overlapping or touching ranges.
// An empty result means nothing usable remained.
func Sanitize(raw []RawRange, totalDuration float64) []TimeRange {
	if !finite(totalDuration) || totalDuration <= 0 {
		return []TimeRange{}
	}

	kept := make([]TimeRange, 0, len(raw))
	for _, r := range raw {
		tr, ok := clamp(r, totalDuration)
		if ok {
			kept = append(kept, tr)
		}
	}
	if len(kept) == 0 {
		return []TimeRange{}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Start == kept[j].Start {
			return kept[i].End < kept[j].End
		}
		return kept[i].Start < kept[j].Start
	})

	merged := make([]TimeRange, 0, len(kept))
	cur := kept[0]
	for _, next := range kept[1:] {
		if next.Start <= cur.End {
			cur.End = math.Max(cur.End, next.End)
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}

func clamp(r RawRange, total float64) (TimeRange, bool) {
	if r.Start == nil || r.End == nil {
		return TimeRange{}, false
	}
	start, end := *r.Start, *r.End
	if !finite(start) || !finite(end) || start > end {
		return TimeRange{}, false
	}
	if start >= total {
		return TimeRange{}, false
	}
	if end > total {
		end = total
	}
	if start < 0 {
		start = 0
	}
	if start >= end {
		return TimeRange{}, false
	}
	return TimeRange{Start: start, End: end}, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Total returns the summed length of a cut list.
func Total(ranges []TimeRange) float64 {
	var sum float64
	for _, r := range ranges {
		sum += r.Duration()
	}
	return sum
}
