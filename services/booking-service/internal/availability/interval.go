package availability

import (
	"slices"

	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

// Interval is a half-open [Start, End) range of minutes since local midnight.
type Interval struct {
	Start int
	End   int
}

func (i Interval) Duration() int {
	return i.End - i.Start
}

// Overlaps applies the half-open test: a overlaps b iff a.Start < b.End && b.Start < a.End.
func (i Interval) Overlaps(b Interval) bool {
	return i.Start < b.End && b.Start < i.End
}

// Merge sorts intervals and collapses overlapping or touching ones.
func Merge(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := slices.Clone(in)
	slices.SortFunc(sorted, func(a, b Interval) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.End - b.End
	})

	merged := make([]Interval, 0, len(sorted))
	for _, cur := range sorted {
		if cur.End <= cur.Start {
			continue
		}
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start > last.End {
			merged = append(merged, cur)
			continue
		}
		if cur.End > last.End {
			last.End = cur.End
		}
	}
	return merged
}

// BusyIntervals turns non-cancelled appointments into busy intervals. The
// appointment with id excludeID is skipped so a reschedule never conflicts
// with its own current slot.
func BusyIntervals(appts []model.Appointment, excludeID string) []Interval {
	busy := make([]Interval, 0, len(appts))
	for _, a := range appts {
		if a.Status == model.StatusCancelled {
			continue
		}
		if excludeID != "" && a.ID == excludeID {
			continue
		}
		busy = append(busy, Interval{Start: a.StartMinute, End: a.EndMinute()})
	}
	return busy
}

// SubtractBusy drops every candidate that overlaps any busy interval. The
// input order is preserved.
func SubtractBusy(candidates, busy []Interval) []Interval {
	out := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if !overlapsAny(c, busy) {
			out = append(out, c)
		}
	}
	return out
}

func overlapsAny(c Interval, busy []Interval) bool {
	for _, b := range busy {
		if c.Overlaps(b) {
			return true
		}
	}
	return false
}

// PairwiseDisjoint reports whether no two intervals overlap.
func PairwiseDisjoint(in []Interval) bool {
	for i := range in {
		for j := i + 1; j < len(in); j++ {
			if in[i].Overlaps(in[j]) {
				return false
			}
		}
	}
	return true
}
