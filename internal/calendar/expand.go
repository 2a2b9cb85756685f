package calendar

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// CalendarID is copied onto every occurrence.
	CalendarID string

	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the time window for occurrences. An
	// occurrence is kept if it overlaps the window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and the UIDs whose
// expansion hit the cap.
type ExpandResult struct {
	Occurrences     []model.Occurrence
	TruncatedEvents []string
}

// Expand turns snapshot events into concrete occurrences inside the window.
// Events without a recurrence rule yield at most one occurrence; events with
// an RRULE are expanded with their original duration. Output follows the
// order of the input events.
func Expand(events []model.Event, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	result.Occurrences = make([]model.Occurrence, 0)
	for _, ev := range events {
		occ, hitCap := expandEvent(ev, cfg)
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.UID)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
		result.Occurrences = append(result.Occurrences, occ...)
	}
	return result, nil
}

// bounds returns the event's start and end as timestamps. All-day events
// span whole days in loc.
func bounds(ev model.Event, loc *time.Location) (time.Time, time.Time) {
	if ev.AllDay {
		return ev.StartDate.In(loc), exclusiveEndDate(ev).In(loc)
	}
	return ev.Start, ev.End
}

func expandEvent(ev model.Event, cfg ExpandConfig) ([]model.Occurrence, bool) {
	start, end := bounds(ev, cfg.DisplayLocation)

	if ev.RRule == "" {
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []model.Occurrence{makeOccurrence(ev, start, end, cfg)}, false
	}
	return expandRecurring(ev, start, end, cfg)
}

func expandRecurring(ev model.Event, start, end time.Time, cfg ExpandConfig) ([]model.Occurrence, bool) {
	rule := strings.TrimSpace(strings.TrimPrefix(ev.RRule, "RRULE:"))
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RRule)
		// Fall back to the first instance only.
		if overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			return []model.Occurrence{makeOccurrence(ev, start, end, cfg)}, false
		}
		return nil, false
	}

	// Ensure Dtstart is set to the event's own start.
	r.DTStart(start)

	dur := end.Sub(start)
	// Widen the lower bound so instances that began before the window but
	// are still running are included.
	rangeStart := cfg.RangeStart.Add(-dur).In(start.Location())
	rangeEnd := cfg.RangeEnd.In(start.Location())

	occTimes := r.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(occTimes))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			days := int(dur.Hours()/24 + 0.5)
			occEnd = occStart.AddDate(0, 0, days)
		} else {
			occEnd = occStart.Add(dur)
		}
		if !overlaps(occStart, occEnd, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(ev, occStart, occEnd, cfg))
	}
	return out, hitCap
}

// makeOccurrence converts an event plus a specific start/end time into a
// model.Occurrence normalized into the display location.
func makeOccurrence(ev model.Event, start, end time.Time, cfg ExpandConfig) model.Occurrence {
	startLocal := start.In(cfg.DisplayLocation)
	endLocal := end.In(cfg.DisplayLocation)

	return model.Occurrence{
		CalendarID:  cfg.CalendarID,
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd).
// Zero-length events count when they fall inside the window.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
