package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttcal/internal/model"
	"ttcal/internal/timetree"
)

func TestPickCalendar(t *testing.T) {
	one := []timetree.Calendar{{ID: "1", Name: "Family"}}
	two := append(one, timetree.Calendar{ID: "2", Name: "Work"})

	_, err := pickCalendar(nil, "")
	assert.EqualError(t, err, "no calendars found for this account")

	c, err := pickCalendar(one, "")
	require.NoError(t, err)
	assert.Equal(t, "Family", c.Name)

	_, err = pickCalendar(two, "")
	assert.Error(t, err)

	c, err = pickCalendar(two, "2")
	require.NoError(t, err)
	assert.Equal(t, "Work", c.Name)

	_, err = pickCalendar(two, "3")
	assert.Error(t, err)
}

func TestPrintEvents(t *testing.T) {
	start := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	events := []model.Event{
		{Summary: "Standup", Start: start, End: start.Add(time.Hour)},
		{Summary: "Holiday", AllDay: true, StartDate: model.DateOf(start), EndDate: model.DateOf(start)},
	}

	var buf bytes.Buffer
	require.NoError(t, printEvents(&buf, events, time.FixedZone("UTC+9", 9*3600)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "2024-05-10 18:00:00")
	assert.Contains(t, lines[1], "Standup")
	assert.Contains(t, lines[2], "2024-05-10")
	assert.Contains(t, lines[2], "Holiday")
}

func TestVersionCommand(t *testing.T) {
	setVersion("1.2.3")
	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	assert.Equal(t, "ttcal version 1.2.3\n", buf.String())
}
