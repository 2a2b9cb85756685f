package timetree

import (
	"sync"
	"time"

	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

const defaultTitle = "No Title"

// ParseEvent converts a wire event into the normalized model. It never fails:
// an unknown timezone keeps the exact instant and renders it in UTC.
func ParseEvent(raw RawEvent) model.Event {
	start := convertTimestamp(raw.StartAt, raw.StartTimezone)
	end := convertTimestamp(raw.EndAt, raw.EndTimezone)

	ev := model.Event{
		UID:         raw.UUID,
		Summary:     defaultTitle,
		Description: raw.Note,
		Location:    raw.Location,
		AllDay:      raw.AllDay,
		UpdatedAt:   raw.UpdatedAt,
	}
	switch {
	case raw.Title != nil:
		ev.Summary = *raw.Title
	case raw.titleSet:
		// Explicit null: no title, and no default either.
		ev.Summary = ""
	}
	if len(raw.Recurrences) > 0 {
		ev.RRule = raw.Recurrences[0]
	}

	if raw.AllDay {
		ev.StartDate = model.DateOf(start)
		ev.EndDate = model.DateOf(end)
	} else {
		ev.Start = start
		ev.End = end
	}
	return ev
}

// ParseEvents normalizes a batch, preserving order.
func ParseEvents(raws []RawEvent) []model.Event {
	out := make([]model.Event, 0, len(raws))
	for _, r := range raws {
		out = append(out, ParseEvent(r))
	}
	return out
}

// convertTimestamp returns epoch zero in the named zone advanced by exactly
// ms milliseconds. Negative values yield instants before 1970.
func convertTimestamp(ms int64, tzName string) time.Time {
	return time.UnixMilli(ms).In(resolveLocation(tzName))
}

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

// resolveLocation loads an IANA zone, caching results. Empty names mean UTC.
func resolveLocation(name string) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}

	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[name]; ok {
		return loc
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Warn("unknown event timezone; using UTC", "timezone", name, "err", err)
		loc = time.UTC
	}
	locCache[name] = loc
	return loc
}
