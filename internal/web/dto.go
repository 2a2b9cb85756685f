package web

import (
	"errors"
	"strings"
	"time"

	"ttcal/internal/entry"
	"ttcal/internal/model"
	"ttcal/internal/timetree"
)

// eventDTO is the JSON form of a snapshot event. Timed events carry start and
// end; all-day events carry start_date and end_date instead.
type eventDTO struct {
	UID         string      `json:"uid"`
	Summary     string      `json:"summary"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	AllDay      bool        `json:"all_day"`
	Start       *time.Time  `json:"start,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	StartDate   *model.Date `json:"start_date,omitempty"`
	EndDate     *model.Date `json:"end_date,omitempty"`
	RRule       string      `json:"rrule,omitempty"`
	UpdatedAt   int64       `json:"updated_at,omitempty"`
}

func newEventDTO(e model.Event) eventDTO {
	dto := eventDTO{
		UID:         e.UID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		AllDay:      e.AllDay,
		RRule:       e.RRule,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.AllDay {
		start, end := e.StartDate, e.EndDate
		dto.StartDate, dto.EndDate = &start, &end
	} else {
		start, end := e.Start, e.End
		dto.Start, dto.End = &start, &end
	}
	return dto
}

type occurrenceDTO struct {
	CalendarID  string    `json:"calendar_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func newOccurrenceDTO(o model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		CalendarID:  o.CalendarID,
		UID:         o.UID,
		InstanceKey: o.InstanceKey,
		Summary:     o.Summary,
		Description: o.Description,
		Location:    o.Location,
		AllDay:      o.AllDay,
		Start:       o.Start,
		End:         o.End,
	}
}

type eventsResponse struct {
	CalendarID      string          `json:"calendar_id"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_tz"`
	Events          []eventDTO      `json:"events,omitempty"`
	Occurrences     []occurrenceDTO `json:"occurrences,omitempty"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
}

// statusDTO reports the last-sync diagnostics of one entry.
type statusDTO struct {
	CalendarID   string     `json:"calendar_id"`
	Name         string     `json:"name"`
	ScanInterval int        `json:"scan_interval"`
	Available    bool       `json:"available"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Events       int        `json:"events"`
}

func newStatusDTO(e *entry.Entry) statusDTO {
	dto := statusDTO{
		CalendarID:   e.ID(),
		Name:         e.Name(),
		ScanInterval: int(e.Refresher.Interval() / time.Minute),
		Available:    e.Refresher.Available(),
	}
	if at, ok := e.Refresher.LastSuccess(); ok {
		dto.LastSuccess = &at
	}
	if err := e.Refresher.LastError(); err != nil {
		dto.LastError = err.Error()
	}
	events, _ := e.Refresher.Snapshot()
	dto.Events = len(events)
	return dto
}

type optionsRequest struct {
	ScanInterval int `json:"scan_interval"`
}

// createEventRequest is the body of POST /api/calendars/{id}/events. start and
// end accept RFC3339 timestamps or, for all-day events, YYYY-MM-DD dates.
type createEventRequest struct {
	Title         string `json:"title"`
	Note          string `json:"note"`
	Location      string `json:"location"`
	AllDay        bool   `json:"all_day"`
	Start         string `json:"start"`
	End           string `json:"end"`
	StartTimezone string `json:"start_timezone"`
	EndTimezone   string `json:"end_timezone"`
}

func (r createEventRequest) input(loc *time.Location) (timetree.EventInput, error) {
	if strings.TrimSpace(r.Title) == "" {
		return timetree.EventInput{}, errors.New("title is required")
	}
	if r.Start == "" {
		return timetree.EventInput{}, errors.New("start is required")
	}
	start, err := parseTimeParam(r.Start, loc)
	if err != nil {
		return timetree.EventInput{}, errors.New("invalid start")
	}
	end := start
	if r.End != "" {
		if end, err = parseTimeParam(r.End, loc); err != nil {
			return timetree.EventInput{}, errors.New("invalid end")
		}
	}
	if end.Before(start) {
		return timetree.EventInput{}, errors.New("end is before start")
	}

	return timetree.EventInput{
		Title:         r.Title,
		Note:          r.Note,
		Location:      r.Location,
		AllDay:        r.AllDay,
		Start:         start,
		End:           end,
		StartTimezone: r.StartTimezone,
		EndTimezone:   r.EndTimezone,
	}, nil
}
