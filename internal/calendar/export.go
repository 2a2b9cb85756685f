package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"ttcal/internal/model"
)

const productID = "-//ttcal//TimeTree bridge//EN"

// WriteICS renders events as a VCALENDAR feed named name. stamp is written as
// DTSTAMP on every event.
func WriteICS(w io.Writer, name string, events []model.Event, stamp time.Time) error {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for i, e := range events {
		uid := e.UID
		if uid == "" {
			uid = fmt.Sprintf("ttcal-%d-%d", i, e.UpdatedAt)
		}

		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(stamp.UTC())
		ve.SetSummary(e.Summary)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}
		if e.UpdatedAt > 0 {
			ve.SetModifiedAt(time.UnixMilli(e.UpdatedAt).UTC())
		}

		if e.AllDay {
			ve.SetAllDayStartAt(e.StartDate.In(time.UTC))
			ve.SetAllDayEndAt(exclusiveEndDate(e).In(time.UTC))
		} else {
			ve.SetStartAt(e.Start.UTC())
			ve.SetEndAt(e.End.UTC())
		}

		if rule := strings.TrimPrefix(e.RRule, "RRULE:"); rule != "" {
			ve.AddRrule(rule)
		}
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
