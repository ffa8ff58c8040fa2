package schedule

import (
	"sort"
	"time"

	"github.com/mistakeknot/concord/internal/core"
)

// TimesOverlap reports whether two intervals share any time. Touching
// endpoints do not overlap.
func TimesOverlap(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}

// FindAvailableSlots walks the sorted event list and returns the gaps in
// [windowStart, windowEnd) that fit durationMinutes with bufferMinutes of
// spacing on both sides. Slots starting outside 07:00-19:00 are discarded.
func (e *Engine) FindAvailableSlots(
	durationMinutes int,
	windowStart, windowEnd time.Time,
	events []core.CalendarEvent,
	bufferMinutes int,
) []core.AvailabilitySlot {
	if bufferMinutes < 0 {
		bufferMinutes = DefaultBufferMinutes
	}
	buffer := time.Duration(bufferMinutes) * time.Minute

	sorted := make([]core.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if !ev.Start.IsZero() && !ev.End.IsZero() {
			sorted = append(sorted, ev)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var slots []core.AvailabilitySlot
	current := windowStart

	for _, ev := range sorted {
		if ev.Start.After(current) {
			gap := int(ev.Start.Sub(current).Minutes())
			if gap >= durationMinutes+bufferMinutes {
				slotEnd := ev.Start.Add(-buffer)
				if alt := current.Add(time.Duration(gap-bufferMinutes) * time.Minute); alt.Before(slotEnd) {
					slotEnd = alt
				}
				slots = append(slots, core.NewSlot(current, slotEnd))
			}
		}
		if ev.End.After(current) {
			current = ev.End.Add(buffer)
		}
	}

	if current.Before(windowEnd) {
		remaining := int(windowEnd.Sub(current).Minutes())
		if remaining >= durationMinutes {
			slots = append(slots, core.NewSlot(current, windowEnd))
		}
	}

	return filterSlots(slots, durationMinutes)
}

// filterSlots applies the coarse sanity filter: long enough and starting at
// a reasonable hour.
func filterSlots(slots []core.AvailabilitySlot, durationMinutes int) []core.AvailabilitySlot {
	filtered := make([]core.AvailabilitySlot, 0, len(slots))
	for _, slot := range slots {
		if slot.DurationMinutes < durationMinutes {
			continue
		}
		hour := slot.Start.Hour()
		if hour < earliestSlotHour || hour > latestSlotHour {
			continue
		}
		filtered = append(filtered, slot)
	}
	return filtered
}

// FindCommonAvailability intersects participant availability: it keeps the
// slots of the first participant (by sorted ID) that overlap at least one
// slot of every other participant. The pairwise check is O(P*S^2), which is
// fine at the small participant counts this runs at.
func (e *Engine) FindCommonAvailability(
	calendars map[string][]core.CalendarEvent,
	durationMinutes int,
	windowStart, windowEnd time.Time,
) []core.AvailabilitySlot {
	if len(calendars) == 0 {
		return nil
	}
	users := make([]string, 0, len(calendars))
	for user := range calendars {
		users = append(users, user)
	}
	sort.Strings(users)

	perUser := make(map[string][]core.AvailabilitySlot, len(users))
	for _, user := range users {
		perUser[user] = e.FindAvailableSlots(durationMinutes, windowStart, windowEnd, calendars[user], DefaultBufferMinutes)
	}

	var common []core.AvailabilitySlot
	for _, slot := range perUser[users[0]] {
		availableForAll := true
		for _, user := range users[1:] {
			overlapsAny := false
			for _, other := range perUser[user] {
				if slot.Overlaps(other) {
					overlapsAny = true
					break
				}
			}
			if !overlapsAny {
				availableForAll = false
				break
			}
		}
		if availableForAll {
			common = append(common, slot)
		}
	}
	return common
}
