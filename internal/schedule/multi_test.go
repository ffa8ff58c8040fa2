package schedule

import (
	"testing"

	"github.com/mistakeknot/concord/internal/core"
)

func TestOptimizeMultiParticipant(t *testing.T) {
	e := New()
	meeting := core.MeetingContext{
		Title:           "quarterly planning",
		Participants:    []string{"alice", "bob"},
		DurationMinutes: 60,
		Priority:        core.PriorityNormal,
	}
	calendars := map[string][]core.CalendarEvent{
		"alice": {{Title: "standup", Start: mon(9, 0), End: mon(9, 30)}},
		"bob":   {{Title: "1:1", Start: mon(16, 0), End: mon(17, 0)}},
	}

	got := e.OptimizeMultiParticipant(meeting, calendars, nil, mon(9, 0), mon(17, 0))
	if len(got) == 0 {
		t.Fatal("expected group suggestions")
	}
	if len(got) > 5 {
		t.Fatalf("got %d suggestions, cap is 5", len(got))
	}
	for i, s := range got {
		if s.Confidence <= 0.4 {
			t.Fatalf("suggestion %d below group floor: %v", i, s.Confidence)
		}
		if s.End.Sub(s.Start).Minutes() != 60 {
			t.Fatalf("suggestion %d has wrong duration: %v to %v", i, s.Start, s.End)
		}
		if i > 0 && s.Confidence > got[i-1].Confidence {
			t.Fatal("group suggestions not sorted by confidence")
		}
	}
}

func TestOptimizeMultiParticipantNoCommonTime(t *testing.T) {
	e := New()
	meeting := core.MeetingContext{Title: "sync", DurationMinutes: 60}
	calendars := map[string][]core.CalendarEvent{
		"alice": {{Title: "offsite", Start: mon(9, 0), End: mon(17, 0)}},
		"bob":   nil,
	}
	if got := e.OptimizeMultiParticipant(meeting, calendars, nil, mon(9, 0), mon(17, 0)); got != nil {
		t.Fatalf("expected nil with no common availability, got %+v", got)
	}
}
