package schedule

import (
	"fmt"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

// ResolutionStrategy selects how DetectConflicts proposes to resolve an
// overlap.
type ResolutionStrategy string

const (
	// StrategySuggestAlternatives proposes nearby alternative windows.
	StrategySuggestAlternatives ResolutionStrategy = "suggest_alternatives"

	// StrategyRescheduleLowerPriority proposes moving lower-priority events
	// out of the way of a high or urgent meeting.
	StrategyRescheduleLowerPriority ResolutionStrategy = "reschedule_lower_priority"
)

// DetectConflicts checks a proposed meeting against existing events and, if
// it overlaps any, builds a severity-rated analysis with resolution options.
// The analysis is retained in the engine's history.
func (e *Engine) DetectConflicts(
	proposed core.MeetingContext,
	proposedStart time.Time,
	events []core.CalendarEvent,
	strategies []ResolutionStrategy,
) core.ConflictAnalysis {
	proposedEnd := proposedStart.Add(time.Duration(proposed.DurationMinutes) * time.Minute)

	var conflicting []core.CalendarEvent
	for _, ev := range events {
		if ev.Start.IsZero() || ev.End.IsZero() {
			continue
		}
		if TimesOverlap(proposedStart, proposedEnd, ev.Start, ev.End) {
			conflicting = append(conflicting, ev)
		}
	}

	if len(conflicting) == 0 {
		return core.ConflictAnalysis{
			Type:       "none",
			Severity:   0,
			DetectedAt: time.Now().UTC(),
		}
	}

	analysis := core.ConflictAnalysis{
		Type:                       "time_overlap",
		Severity:                   conflictSeverity(proposed, conflicting),
		Participants:               proposed.Participants,
		Events:                     conflicting,
		EstimatedResolutionMinutes: 5*len(conflicting) + 2*len(proposed.Participants),
		DetectedAt:                 time.Now().UTC(),
	}

	if len(strategies) == 0 {
		strategies = []ResolutionStrategy{StrategySuggestAlternatives}
	}
	for _, strategy := range strategies {
		if opt, ok := resolutionOption(strategy, proposed, proposedStart, conflicting); ok {
			analysis.Options = append(analysis.Options, opt)
		}
	}

	e.log.Info("conflict detected",
		"meeting", proposed.Title,
		"events", len(conflicting),
		"severity", analysis.Severity)
	e.recordConflict(analysis)
	return analysis
}

// conflictSeverity rates a conflict 1-5 from the number of overlapping
// events and the priorities involved.
func conflictSeverity(proposed core.MeetingContext, conflicting []core.CalendarEvent) int {
	severity := 1

	if len(conflicting) > 3 {
		severity += 2
	} else if len(conflicting) > 1 {
		severity++
	}

	important := 0
	for _, ev := range conflicting {
		if ev.Priority >= core.PriorityHigh {
			important++
		}
	}
	if important > 2 {
		important = 2
	}
	severity += important

	if proposed.Priority >= core.PriorityHigh {
		severity++
	}

	if severity > 5 {
		severity = 5
	}
	return severity
}

func resolutionOption(
	strategy ResolutionStrategy,
	proposed core.MeetingContext,
	proposedStart time.Time,
	conflicting []core.CalendarEvent,
) (core.ResolutionOption, bool) {
	switch strategy {
	case StrategySuggestAlternatives:
		return core.ResolutionOption{
			Type:        core.ResolutionAlternativeTime,
			Description: fmt.Sprintf("Find an alternative time for %q", proposed.Title),
			Action:      "search_alternatives",
			WindowStart: proposedStart.Add(time.Hour),
			WindowEnd:   proposedStart.Add(24 * time.Hour),
		}, true

	case StrategyRescheduleLowerPriority:
		// Only a high or urgent meeting can displace existing events.
		if proposed.Priority < core.PriorityHigh {
			return core.ResolutionOption{}, false
		}
		var movable []string
		for _, ev := range conflicting {
			if ev.Priority < core.PriorityHigh {
				movable = append(movable, ev.ID)
			}
		}
		if len(movable) == 0 {
			return core.ResolutionOption{}, false
		}
		return core.ResolutionOption{
			Type:        core.ResolutionRescheduleConflicts,
			Description: fmt.Sprintf("Reschedule %d lower-priority events", len(movable)),
			Action:      "reschedule_events",
			EventIDs:    movable,
		}, true
	}
	return core.ResolutionOption{}, false
}
