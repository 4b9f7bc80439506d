package availability

import (
	"testing"

	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

func TestSubtractBusy_HalfOpen(t *testing.T) {
	candidates := []Interval{{540, 555}, {555, 570}, {570, 585}, {585, 600}}
	busy := []Interval{{555, 585}}

	free := SubtractBusy(candidates, busy)
	if len(free) != 2 {
		t.Fatalf("expected 2 free slots, got %+v", free)
	}
	if free[0].Start != 540 || free[1].Start != 585 {
		t.Fatalf("busy edges must not block adjacent slots, got %+v", free)
	}
}

func TestBusyIntervals_SkipsCancelledAndExcluded(t *testing.T) {
	appts := []model.Appointment{
		{ID: "a", StartMinute: 540, DurationMinutes: 60, Status: model.StatusScheduled},
		{ID: "b", StartMinute: 660, DurationMinutes: 30, Status: model.StatusCancelled},
		{ID: "c", StartMinute: 720, DurationMinutes: 30, Status: model.StatusCompleted},
	}
	busy := BusyIntervals(appts, "a")
	if len(busy) != 1 || busy[0] != (Interval{720, 750}) {
		t.Fatalf("unexpected busy intervals: %+v", busy)
	}
}

func TestMerge(t *testing.T) {
	got := Merge([]Interval{{600, 660}, {540, 600}, {700, 720}, {710, 715}, {800, 800}})
	want := []Interval{{540, 660}, {700, 720}}
	if len(got) != len(want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	}
}

func TestPairwiseDisjoint(t *testing.T) {
	if !PairwiseDisjoint([]Interval{{0, 10}, {10, 20}}) {
		t.Fatal("touching intervals are disjoint")
	}
	if PairwiseDisjoint([]Interval{{0, 11}, {10, 20}}) {
		t.Fatal("expected overlap to be detected")
	}
}
