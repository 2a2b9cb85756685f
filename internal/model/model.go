package model

import (
	"fmt"
	"time"
)

// Date is a calendar day without time-of-day or timezone, used for the
// bounds of all-day events.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// In returns midnight of d in loc. A nil loc means UTC.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or
// after o.
func (d Date) Compare(o Date) int {
	return d.In(time.UTC).Compare(o.In(time.UTC))
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	t, err := time.Parse(time.DateOnly, string(b))
	if err != nil {
		return fmt.Errorf("model: invalid date %q: %w", string(b), err)
	}
	*d = DateOf(t)
	return nil
}

// Event is a normalized TimeTree event. It is derived from the wire record
// and never mutated afterwards.
//
// If AllDay is set, StartDate/EndDate carry the bounds and Start/End are
// zero; otherwise Start/End are zoned timestamps and the dates are zero.
// Start <= End is not enforced.
type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time

	StartDate Date
	EndDate   Date

	// RRule is the first recurrence rule of the event, if any.
	RRule string
	// UpdatedAt is the provider's last-modified marker (epoch milliseconds).
	UpdatedAt int64
}

// StartIn returns the event start as a timestamp. All-day starts are taken
// at midnight in loc.
func (e Event) StartIn(loc *time.Location) time.Time {
	if e.AllDay {
		return e.StartDate.In(loc)
	}
	return e.Start
}

// EndIn is the counterpart of StartIn.
func (e Event) EndIn(loc *time.Location) time.Time {
	if e.AllDay {
		return e.EndDate.In(loc)
	}
	return e.End
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	CalendarID string
	UID        string

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the requested display timezone.
	Start time.Time
	End   time.Time
}
