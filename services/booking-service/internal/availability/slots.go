package availability

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

// MaxDurationMinutes bounds a single booking to one day.
const MaxDurationMinutes = model.MinutesPerDay

// Policy is the slice of tenant configuration the generator needs.
type Policy struct {
	Windows []model.AvailabilityWindow
	Rule    model.BookingRule
}

// MatchingWindows returns the merged open intervals for the date's weekday.
// A concrete resource sees its own windows plus the unscoped ones; the
// AnyResource scope sees only unscoped windows.
func MatchingWindows(windows []model.AvailabilityWindow, weekday time.Weekday, scope string) []Interval {
	var open []Interval
	for _, w := range windows {
		if w.Weekday != weekday {
			continue
		}
		if w.ResourceID != model.AnyResource && w.ResourceID != scope {
			continue
		}
		if w.StartMinute < 0 || w.EndMinute > model.MinutesPerDay || w.EndMinute <= w.StartMinute {
			continue
		}
		open = append(open, Interval{Start: w.StartMinute, End: w.EndMinute})
	}
	return Merge(open)
}

// GenerateCandidates returns the ordered candidate slots of length durationMinutes
// for date. It performs no I/O and depends only on its arguments.
//
// Candidate starts step from each merged window's start at the rule's granularity;
// a candidate is kept only if it ends within the window, starts no earlier
// than now + lead time and names a wall-clock time that exists in the tenant
// zone on that date.
func GenerateCandidates(date civil.Date, scope string, durationMinutes int, p Policy, now time.Time) []Interval {
	if durationMinutes <= 0 || durationMinutes > MaxDurationMinutes {
		return nil
	}
	rule := p.Rule
	step := rule.GranularityMinutes
	if step <= 0 {
		step = model.DefaultGranularityMinutes
	}
	if rule.IsBlackout(date) {
		return nil
	}

	loc := rule.Location()
	if rule.Capability(model.CapabilitySameDayClosed) && civil.DateOf(now.In(loc)) == date {
		return nil
	}
	cutoff := now.Add(time.Duration(rule.LeadTimeMinutes) * time.Minute)

	var starts []int
	for _, w := range MatchingWindows(p.Windows, date.In(time.UTC).Weekday(), scope) {
		for s := w.Start; s+durationMinutes <= w.End; s += step {
			at := StartTime(date, s, loc)
			if at.Hour()*60+at.Minute() != s {
				// skipped by a forward DST jump
				continue
			}
			if at.Before(cutoff) {
				continue
			}
			starts = append(starts, s)
		}
	}
	slices.Sort(starts)
	starts = slices.Compact(starts)

	out := make([]Interval, 0, len(starts))
	for _, s := range starts {
		out = append(out, Interval{Start: s, End: s + durationMinutes})
	}
	return out
}

// StartTime converts a civil date and minute-of-day into an absolute instant.
func StartTime(date civil.Date, minute int, loc *time.Location) time.Time {
	return time.Date(date.Year, date.Month, date.Day, minute/60, minute%60, 0, 0, loc)
}

// Contains reports whether slot is exactly one of the candidates.
func Contains(candidates []Interval, slot Interval) bool {
	for _, c := range candidates {
		if c == slot {
			return true
		}
	}
	return false
}
