package schedule

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

// Fixed weights combining the seven sub-scores into one confidence value.
var scoreWeights = map[string]float64{
	"business_hours":          0.20,
	"participant_preferences": 0.25,
	"time_of_day":             0.15,
	"day_of_week":             0.10,
	"buffer_time":             0.15,
	"meeting_density":         0.10,
	"travel_time":             0.05,
}

const (
	businessStartHour = 9
	businessEndHour   = 17
)

// SuggestOptimalTimes searches the window for free slots, scores each one,
// and returns the top maxSuggestions candidates above the confidence floor,
// each annotated with up to three alternative start times.
func (e *Engine) SuggestOptimalTimes(
	meeting core.MeetingContext,
	searchStart, searchEnd time.Time,
	events []core.CalendarEvent,
	prefs map[string]core.SchedulingPreference,
	maxSuggestions int,
) []core.SchedulingSuggestion {
	if maxSuggestions <= 0 {
		maxSuggestions = 5
	}
	slots := e.FindAvailableSlots(meeting.DurationMinutes, searchStart, searchEnd, events, DefaultBufferMinutes)
	if len(slots) == 0 {
		e.log.Warn("no available slots in search range", "meeting", meeting.Title)
		return nil
	}

	scored := make([]core.SchedulingSuggestion, 0, len(slots))
	for _, slot := range slots {
		suggestion := e.EvaluateTimeSlot(slot, meeting, prefs, events)
		if suggestion.Confidence > minConfidence {
			scored = append(scored, suggestion)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Confidence > scored[j].Confidence })
	if len(scored) > maxSuggestions {
		scored = scored[:maxSuggestions]
	}

	pool := slots
	if len(pool) > 10 {
		pool = pool[:10]
	}
	for i := range scored {
		scored[i].Alternatives = alternativeTimes(scored[i].Start, pool)
	}
	e.log.Info("generated scheduling suggestions", "meeting", meeting.Title, "count", len(scored))
	return scored
}

// EvaluateTimeSlot computes seven independent sub-scores for the slot,
// combines them with the fixed weight vector, applies the priority
// multiplier, and clamps to [0,1].
func (e *Engine) EvaluateTimeSlot(
	slot core.AvailabilitySlot,
	meeting core.MeetingContext,
	prefs map[string]core.SchedulingPreference,
	events []core.CalendarEvent,
) core.SchedulingSuggestion {
	start := slot.Start
	end := start.Add(time.Duration(meeting.DurationMinutes) * time.Minute)

	scores := make(map[string]float64, len(scoreWeights))
	var reasons []string

	if withinBusinessHours(start, end) {
		scores["business_hours"] = 1.0
		reasons = append(reasons, "within business hours")
	} else {
		scores["business_hours"] = 0.3
		reasons = append(reasons, "outside typical business hours")
	}

	if len(prefs) > 0 {
		var sum float64
		var strong int
		for _, pref := range prefs {
			s := scorePreference(start, end, pref)
			sum += s
			if s > 0.7 {
				strong++
			}
		}
		scores["participant_preferences"] = sum / float64(len(prefs))
		reasons = append(reasons, fmt.Sprintf("matches %d participant preferences", strong))
	}

	tod, todReason := scoreTimeOfDay(start.Hour())
	scores["time_of_day"] = tod
	reasons = append(reasons, todReason)

	scores["day_of_week"] = scoreDayOfWeek(start, meeting.Priority)
	scores["buffer_time"] = scoreBufferTime(start, end, events)
	scores["meeting_density"] = scoreMeetingDensity(start, events)
	scores["travel_time"] = scoreTravel(start, meeting, events)

	var confidence float64
	for factor, weight := range scoreWeights {
		confidence += scores[factor] * weight
	}
	switch meeting.Priority {
	case core.PriorityUrgent:
		confidence *= 1.2
	case core.PriorityHigh:
		confidence *= 1.1
	case core.PriorityLow:
		confidence *= 0.9
	}
	confidence = clamp01(confidence)

	reasoning := fmt.Sprintf("Scheduled for %s. %s. Confidence: %.2f",
		start.Format("Monday, January 2 at 3:04 PM"), strings.Join(reasons, ". "), confidence)

	return core.SchedulingSuggestion{
		Start:                    start,
		End:                      end,
		Confidence:               confidence,
		Reasoning:                reasoning,
		ParticipantCompatibility: scores["participant_preferences"],
	}
}

func withinBusinessHours(start, end time.Time) bool {
	wd := start.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	return startMin >= businessStartHour*60 && endMin <= businessEndHour*60 && startMin <= endMin
}

// scorePreference rates a slot against one user's learned preferences.
func scorePreference(start, end time.Time, pref core.SchedulingPreference) float64 {
	var score float64

	startMin := start.Hour()*60 + start.Minute()
	for _, hour := range pref.PreferredStartHours {
		diff := startMin - hour*60
		if diff < 0 {
			diff = -diff
		}
		if diff <= 60 {
			score += 0.3
		}
	}

	for _, day := range pref.PreferredWeekdays {
		if start.Weekday() == day {
			score += 0.3
			break
		}
	}

	endMin := end.Hour()*60 + end.Minute()
	if startMin >= pref.WorkHoursStart*60 && endMin <= pref.WorkHoursEnd*60 {
		score += 0.4
	}

	if score > 1 {
		score = 1
	}
	return score
}

func scoreTimeOfDay(hour int) (float64, string) {
	switch {
	case hour >= 9 && hour <= 11:
		return 1.0, "optimal morning time"
	case hour >= 13 && hour <= 15:
		return 0.9, "good afternoon time"
	case (hour >= 8 && hour <= 9) || (hour >= 15 && hour <= 17):
		return 0.7, "acceptable time"
	default:
		return 0.3, "suboptimal time"
	}
}

func scoreDayOfWeek(start time.Time, priority core.Priority) float64 {
	switch start.Weekday() {
	case time.Monday, time.Tuesday, time.Wednesday, time.Thursday:
		return 1.0
	case time.Friday:
		return 0.7
	default:
		if priority == core.PriorityUrgent {
			return 0.2
		}
		return 0.1
	}
}

// scoreBufferTime rates the spacing to the nearest neighboring events.
func scoreBufferTime(start, end time.Time, events []core.CalendarEvent) float64 {
	minBuffer := math.Inf(1)
	for _, ev := range events {
		if ev.Start.IsZero() || ev.End.IsZero() {
			continue
		}
		if !ev.End.After(start) {
			if b := start.Sub(ev.End).Minutes(); b < minBuffer {
				minBuffer = b
			}
		}
		if !ev.Start.Before(end) {
			if b := ev.Start.Sub(end).Minutes(); b < minBuffer {
				minBuffer = b
			}
		}
	}
	switch {
	case math.IsInf(minBuffer, 1):
		return 1.0 // no adjacent meetings
	case minBuffer >= 30:
		return 1.0
	case minBuffer >= 15:
		return 0.8
	case minBuffer >= 5:
		return 0.5
	default:
		return 0.2
	}
}

func scoreMeetingDensity(start time.Time, events []core.CalendarEvent) float64 {
	y, m, d := start.Date()
	count := 0
	for _, ev := range events {
		if ev.Start.IsZero() {
			continue
		}
		ey, em, ed := ev.Start.Date()
		if ey == y && em == m && ed == d {
			count++
		}
	}
	switch {
	case count <= 3:
		return 1.0
	case count <= 5:
		return 0.8
	case count <= 7:
		return 0.5
	default:
		return 0.2
	}
}

// scoreTravel checks whether the gap after the immediately preceding meeting
// fits the required travel time.
func scoreTravel(start time.Time, meeting core.MeetingContext, events []core.CalendarEvent) float64 {
	if meeting.TravelTimeMinutes == 0 {
		return 1.0
	}
	var prev *core.CalendarEvent
	for i := range events {
		ev := &events[i]
		if ev.End.IsZero() || ev.End.After(start) {
			continue
		}
		if prev == nil || ev.End.After(prev.End) {
			prev = ev
		}
	}
	if prev == nil {
		return 1.0
	}
	available := start.Sub(prev.End).Minutes()
	required := float64(meeting.TravelTimeMinutes)
	switch {
	case available >= required:
		return 1.0
	case available >= required*0.8:
		return 0.7
	default:
		return 0.3
	}
}

// alternativeTimes picks up to three other slot starts within 24 hours of
// base, nearest first.
func alternativeTimes(base time.Time, slots []core.AvailabilitySlot) []time.Time {
	var alts []time.Time
	for _, slot := range slots {
		if slot.Start.Equal(base) {
			continue
		}
		diff := slot.Start.Sub(base)
		if diff < 0 {
			diff = -diff
		}
		if diff <= 24*time.Hour {
			alts = append(alts, slot.Start)
		}
	}
	sort.Slice(alts, func(i, j int) bool {
		di, dj := alts[i].Sub(base), alts[j].Sub(base)
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		return di < dj
	})
	if len(alts) > 3 {
		alts = alts[:3]
	}
	return alts
}
