package timetree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Credentials identify a TimeTree account.
type Credentials struct {
	Email    string
	Password string
}

// ID is an identifier the API sends either as a JSON number or a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timetree: invalid id %s: %w", string(b), err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Calendar is an entry of the account's calendar list.
type Calendar struct {
	ID        ID
	Name      string
	AliasCode string
}

// RawEvent is an event as returned by the sync feed.
type RawEvent struct {
	ID            ID       `json:"id"`
	UUID          string   `json:"uuid"`
	Title         *string  `json:"title"`
	Note          string   `json:"note"`
	Location      string   `json:"location"`
	AllDay        bool     `json:"all_day"`
	StartAt       int64    `json:"start_at"`
	StartTimezone string   `json:"start_timezone"`
	EndAt         int64    `json:"end_at"`
	EndTimezone   string   `json:"end_timezone"`
	Recurrences   []string `json:"recurrences"`
	UpdatedAt     int64    `json:"updated_at"`

	// titleSet records that the title key was present, even if null.
	titleSet bool
}

// UnmarshalJSON decodes the event and notes whether a title key was sent, so
// an explicit null title can be told apart from a missing one.
func (e *RawEvent) UnmarshalJSON(b []byte) error {
	type plain RawEvent
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	_, p.titleSet = keys["title"]
	*e = RawEvent(p)
	return nil
}

// EventInput describes an event to create.
type EventInput struct {
	Title    string
	Note     string
	Location string
	AllDay   bool

	// Start and End are sent as epoch milliseconds. For all-day events only
	// their calendar date matters and the event is stored at UTC midnight.
	// All-day End is the last day of the event, inclusive: a one-day event
	// has the same Start and End date.
	Start time.Time
	End   time.Time

	// Timezones default to the location of Start/End.
	StartTimezone string
	EndTimezone   string
}

type calendarRecord struct {
	ID            ID              `json:"id"`
	Name          string          `json:"name"`
	AliasCode     string          `json:"alias_code"`
	DeactivatedAt json.RawMessage `json:"deactivated_at"`
}

func (c calendarRecord) deactivated() bool {
	v := bytes.TrimSpace(c.DeactivatedAt)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

type calendarsPage struct {
	Calendars []calendarRecord `json:"calendars"`
	Chunk     bool             `json:"chunk"`
	Since     json.Number      `json:"since"`
}

type syncPage struct {
	Events []RawEvent  `json:"events"`
	Chunk  bool        `json:"chunk"`
	Since  json.Number `json:"since"`
}

type signinRequest struct {
	UID      string `json:"uid"`
	Password string `json:"password"`
	UUID     string `json:"uuid"`
}

// Values of the type/category fields used when creating a plain schedule
// event.
const (
	eventTypeNormal       = 0
	eventCategorySchedule = 1
)

type createEventRequest struct {
	Type          int    `json:"type"`
	Category      int    `json:"category"`
	Title         string `json:"title"`
	Note          string `json:"note"`
	Location      string `json:"location"`
	AllDay        bool   `json:"all_day"`
	StartAt       int64  `json:"start_at"`
	StartTimezone string `json:"start_timezone"`
	EndAt         int64  `json:"end_at"`
	EndTimezone   string `json:"end_timezone"`
	UUID          string `json:"uuid"`
}

type createEventResponse struct {
	Event *RawEvent `json:"event"`
}
