package schedule

import (
	"sort"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

// fullConfidenceObservations is how many accepted meetings it takes to reach
// confidence 1.0.
const fullConfidenceObservations = 20

// RecordObservation stores one scheduling outcome and relearns the user's
// preference profile from everything seen so far.
func (e *Engine) RecordObservation(obs core.MeetingObservation) error {
	if e.store != nil {
		if err := e.store.AppendObservation(obs); err != nil {
			return err
		}
	}
	return e.relearn(obs.UserID)
}

// RecordFeedback stores an explicit rating for a scheduled meeting. Low
// ratings with a concrete window feed the avoid-window list.
func (e *Engine) RecordFeedback(fb core.MeetingFeedback) error {
	if e.store != nil {
		if err := e.store.AppendFeedback(fb); err != nil {
			return err
		}
	}
	return e.relearn(fb.UserID)
}

func (e *Engine) relearn(userID string) error {
	if e.store == nil {
		return nil
	}
	obs, err := e.store.ObservationsForUser(userID)
	if err != nil {
		return err
	}
	feedback, err := e.store.FeedbackForUser(userID)
	if err != nil {
		return err
	}
	pref := LearnPreferences(userID, obs, feedback)
	e.mu.Lock()
	e.prefs[userID] = pref
	e.mu.Unlock()
	e.log.Debug("relearned preferences",
		"user", userID,
		"observations", len(obs),
		"confidence", pref.Confidence)
	return nil
}

// LearnPreferences derives a preference profile from accepted meeting
// observations and explicit feedback. With no data it returns a sensible
// default profile at zero confidence.
func LearnPreferences(userID string, observations []core.MeetingObservation, feedback []core.MeetingFeedback) core.SchedulingPreference {
	pref := core.SchedulingPreference{
		UserID:                   userID,
		PreferredStartHours:      []int{9, 14},
		PreferredWeekdays:        []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		PreferredDurationMinutes: 60,
		BufferMinutes:            DefaultBufferMinutes,
		MaxMeetingsPerDay:        8,
		WorkHoursStart:           9,
		WorkHoursEnd:             17,
	}

	hourCounts := make(map[int]int)
	dayCounts := make(map[time.Weekday]int)
	var durations []int
	accepted := 0
	earliest, latest := -1, -1

	for _, obs := range observations {
		if !obs.Accepted || obs.Start.IsZero() {
			continue
		}
		accepted++
		h := obs.Start.Hour()
		hourCounts[h]++
		dayCounts[obs.Start.Weekday()]++
		if obs.DurationMinutes > 0 {
			durations = append(durations, obs.DurationMinutes)
		}
		if earliest == -1 || h < earliest {
			earliest = h
		}
		if h > latest {
			latest = h
		}
	}

	if accepted > 0 {
		pref.PreferredStartHours = topHours(hourCounts, 3)
		pref.PreferredWeekdays = topWeekdays(dayCounts, 3)
		if len(durations) > 0 {
			sum := 0
			for _, d := range durations {
				sum += d
			}
			pref.PreferredDurationMinutes = sum / len(durations)
		}
		pref.WorkHoursStart = earliest - 1
		if pref.WorkHoursStart < 8 {
			pref.WorkHoursStart = 8
		}
		pref.WorkHoursEnd = latest + 2
		if pref.WorkHoursEnd > 18 {
			pref.WorkHoursEnd = 18
		}
	}

	// Confidence tracks data volume, not acceptance: declined meetings are
	// still evidence the profile rests on real history.
	pref.Confidence = float64(len(observations)) / fullConfidenceObservations
	if pref.Confidence > 1 {
		pref.Confidence = 1
	}

	pref.AvoidWindows = avoidWindows(feedback)
	return pref
}

// topHours returns the n most frequent start hours, most frequent first.
// Ties break toward the earlier hour so results are stable.
func topHours(counts map[int]int, n int) []int {
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

func topWeekdays(counts map[time.Weekday]int, n int) []time.Weekday {
	days := make([]time.Weekday, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		if counts[days[i]] != counts[days[j]] {
			return counts[days[i]] > counts[days[j]]
		}
		return days[i] < days[j]
	})
	if len(days) > n {
		days = days[:n]
	}
	return days
}

// avoidWindows extracts clock windows the user rated poorly. Only feedback
// carrying the actual meeting window counts.
func avoidWindows(feedback []core.MeetingFeedback) []core.ClockWindow {
	var windows []core.ClockWindow
	for _, fb := range feedback {
		if fb.Rating >= 3 || fb.WindowStart.IsZero() || fb.WindowEnd.IsZero() {
			continue
		}
		windows = append(windows, core.ClockWindow{
			StartMinute: fb.WindowStart.Hour()*60 + fb.WindowStart.Minute(),
			EndMinute:   fb.WindowEnd.Hour()*60 + fb.WindowEnd.Minute(),
		})
	}
	return windows
}
