package core

import (
	"fmt"
	"time"
)

// Priority orders scheduling work. Wire encoding is the integer value.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority maps a priority name to its level, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	default:
		return PriorityNormal
	}
}

// CalendarEvent is an occupied interval on a participant's calendar.
type CalendarEvent struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
	Location  string    `json:"location,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
	Priority  Priority  `json:"priority,omitempty"`
}

// AvailabilitySlot is a free half-open interval [Start, End).
type AvailabilitySlot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// NewSlot builds a slot with its duration derived from the bounds.
func NewSlot(start, end time.Time) AvailabilitySlot {
	return AvailabilitySlot{
		Start:           start,
		End:             end,
		DurationMinutes: int(end.Sub(start).Minutes()),
	}
}

// Validate checks the slot invariants: start precedes end and the stored
// duration matches the bounds.
func (s AvailabilitySlot) Validate() error {
	if !s.Start.Before(s.End) {
		return fmt.Errorf("slot start %v not before end %v", s.Start, s.End)
	}
	if got := int(s.End.Sub(s.Start).Minutes()); got != s.DurationMinutes {
		return fmt.Errorf("slot duration %d does not match bounds (%d)", s.DurationMinutes, got)
	}
	return nil
}

// Overlaps reports whether two slots share any time. Touching endpoints do
// not overlap.
func (s AvailabilitySlot) Overlaps(other AvailabilitySlot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// MeetingContext describes the meeting being scheduled.
type MeetingContext struct {
	Title             string   `json:"title"`
	Participants      []string `json:"participants"`
	DurationMinutes   int      `json:"duration_minutes"`
	Priority          Priority `json:"priority"`
	Location          string   `json:"location,omitempty"`
	MeetingType       string   `json:"meeting_type,omitempty"`
	TravelTimeMinutes int      `json:"travel_time_minutes,omitempty"`
	Flexibility       int      `json:"flexibility,omitempty"` // 1-5, higher is more flexible
}

// SchedulingSuggestion is a scored candidate time for a meeting.
type SchedulingSuggestion struct {
	Start                    time.Time   `json:"start_time"`
	End                      time.Time   `json:"end_time"`
	Confidence               float64     `json:"confidence_score"`
	Reasoning                string      `json:"reasoning"`
	ParticipantCompatibility float64     `json:"participant_compatibility"`
	Alternatives             []time.Time `json:"alternative_times,omitempty"`
}

// Resolution option types produced by conflict analysis.
const (
	ResolutionAlternativeTime     = "alternative_time"
	ResolutionRescheduleConflicts = "reschedule_conflicts"
)

// ResolutionOption is one way to resolve a detected conflict.
type ResolutionOption struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Action      string    `json:"action"`
	WindowStart time.Time `json:"window_start,omitzero"`
	WindowEnd   time.Time `json:"window_end,omitzero"`
	EventIDs    []string  `json:"events_to_move,omitempty"`
}

// ConflictAnalysis reports overlap between a proposed meeting and existing
// events, with resolution options.
type ConflictAnalysis struct {
	Type                       string             `json:"conflict_type"`
	Severity                   int                `json:"severity"` // 0 none, 1-5 otherwise
	Participants               []string           `json:"affected_participants"`
	Events                     []CalendarEvent    `json:"conflicting_events"`
	Options                    []ResolutionOption `json:"resolution_options"`
	EstimatedResolutionMinutes int                `json:"estimated_resolution_time"`
	DetectedAt                 time.Time          `json:"detected_at,omitzero"`
}

// ClockWindow is a recurring daily window expressed in minutes from midnight.
type ClockWindow struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// Contains reports whether the clock time of t falls inside the window.
func (w ClockWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= w.StartMinute && m < w.EndMinute
}

// SchedulingPreference is a per-user model learned from accepted meetings
// and feedback.
type SchedulingPreference struct {
	UserID                   string         `json:"user_id"`
	PreferredStartHours      []int          `json:"preferred_start_hours"`
	PreferredWeekdays        []time.Weekday `json:"preferred_weekdays"`
	PreferredDurationMinutes int            `json:"preferred_duration_minutes"`
	AvoidWindows             []ClockWindow  `json:"avoid_windows,omitempty"`
	BufferMinutes            int            `json:"buffer_minutes"`
	MaxMeetingsPerDay        int            `json:"max_meetings_per_day"`
	WorkHoursStart           int            `json:"work_hours_start"` // hour of day
	WorkHoursEnd             int            `json:"work_hours_end"`
	Confidence               float64        `json:"confidence_score"`
}

// MeetingObservation is one historical data point for preference learning.
type MeetingObservation struct {
	UserID          string    `json:"user_id"`
	Start           time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Accepted        bool      `json:"accepted"`
}

// MeetingFeedback is a user rating of a past meeting time. WindowStart and
// WindowEnd identify the rated interval when the client supplied one.
type MeetingFeedback struct {
	UserID      string    `json:"user_id"`
	Rating      int       `json:"rating"` // 1-5
	WindowStart time.Time `json:"window_start,omitzero"`
	WindowEnd   time.Time `json:"window_end,omitzero"`
	Comment     string    `json:"comment,omitempty"`
}
