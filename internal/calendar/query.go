// Package calendar adapts refresher snapshots to the views the HTTP API
// serves: range queries, the next upcoming event, recurrence expansion and an
// iCalendar feed.
package calendar

import (
	"time"

	"ttcal/internal/model"
)

// exclusiveEndDate returns the first day after an all-day event. TimeTree
// end dates are inclusive: a one-day event has equal start and end dates and
// a Jan 1 to Jan 3 event ends on Jan 3. An end before the start is treated as
// a one-day event.
func exclusiveEndDate(e model.Event) model.Date {
	last := e.EndDate
	if last.Before(e.StartDate) {
		last = e.StartDate
	}
	return last.AddDays(1)
}

// InRange returns the events overlapping [start, end). All-day events are
// compared by date in start's location, timed events by instant.
func InRange(events []model.Event, start, end time.Time) []model.Event {
	out := make([]model.Event, 0)
	queryStart := model.DateOf(start)
	queryEnd := model.DateOf(end.In(start.Location()))

	for _, e := range events {
		if e.AllDay {
			if e.StartDate.Before(queryEnd) && exclusiveEndDate(e).After(queryStart) {
				out = append(out, e)
			}
			continue
		}
		if e.Start.Before(end) && e.End.After(start) {
			out = append(out, e)
		}
	}
	return out
}

// Next returns the upcoming or ongoing event with the earliest start. An
// all-day event counts until the end of its last day in now's location.
func Next(events []model.Event, now time.Time) (model.Event, bool) {
	loc := now.Location()
	today := model.DateOf(now)

	var (
		best    model.Event
		bestKey time.Time
		found   bool
	)
	for _, e := range events {
		if e.AllDay {
			if !exclusiveEndDate(e).After(today) {
				continue
			}
		} else if !e.End.After(now) {
			continue
		}

		key := e.StartIn(loc)
		if !found || key.Before(bestKey) {
			best, bestKey, found = e, key, true
		}
	}
	return best, found
}
