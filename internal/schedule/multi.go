package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

// OptimizeMultiParticipant intersects all participant calendars, then scores
// each common slot per participant and keeps the windows that work well for
// the whole group. A slot that is terrible for any one participant is
// penalized even when the average looks fine.
func (e *Engine) OptimizeMultiParticipant(
	meeting core.MeetingContext,
	calendars map[string][]core.CalendarEvent,
	prefs map[string]core.SchedulingPreference,
	windowStart, windowEnd time.Time,
) []core.SchedulingSuggestion {
	common := e.FindCommonAvailability(calendars, meeting.DurationMinutes, windowStart, windowEnd)
	if len(common) == 0 {
		e.log.Warn("no common availability", "meeting", meeting.Title, "participants", len(calendars))
		return nil
	}

	users := make([]string, 0, len(calendars))
	for user := range calendars {
		users = append(users, user)
	}
	sort.Strings(users)

	var suggestions []core.SchedulingSuggestion
	for _, slot := range common {
		end := slot.Start.Add(time.Duration(meeting.DurationMinutes) * time.Minute)

		var sum, min float64
		min = 1
		for _, user := range users {
			userPrefs := map[string]core.SchedulingPreference{}
			if p, ok := prefs[user]; ok {
				userPrefs[user] = p
			}
			s := e.EvaluateTimeSlot(slot, meeting, userPrefs, calendars[user])
			sum += s.Confidence
			if s.Confidence < min {
				min = s.Confidence
			}
		}
		score := sum / float64(len(users))

		if min < 0.3 {
			score -= 0.3
		} else if min < 0.5 {
			score -= 0.1
		}
		switch meeting.Priority {
		case core.PriorityUrgent:
			score *= 1.2
		case core.PriorityHigh:
			score *= 1.1
		}
		score = clamp01(score)

		if score > 0.4 {
			suggestions = append(suggestions, core.SchedulingSuggestion{
				Start:                    slot.Start,
				End:                      end,
				Confidence:               score,
				Reasoning:                groupReasoning(slot.Start, len(users), score),
				ParticipantCompatibility: min,
			})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

func groupReasoning(start time.Time, participants int, score float64) string {
	return fmt.Sprintf("%s works for all %d participants (group score %.2f)",
		start.Format("Monday, January 2 at 3:04 PM"), participants, score)
}
