package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestInitJSONWritesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "json", LevelDebug)
	t.Cleanup(func() { Init(os.Stderr, "text", LevelInfo) })

	Error("poll failed", errors.New("boom"), "calendar", "c1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "poll failed", line["msg"])
	assert.Equal(t, "boom", line["err"])
	assert.Equal(t, "c1", line["calendar"])
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "text", LevelInfo)
	t.Cleanup(func() { Init(os.Stderr, "text", LevelInfo) })

	Debug("hidden")
	Info("shown")
	SetLevel(LevelDebug)
	Debug("now visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "now visible")
}

func TestHashEmail(t *testing.T) {
	assert.Empty(t, HashEmail(""))
	h := HashEmail("A@B.com")
	assert.True(t, strings.HasPrefix(h, "user:"))
	assert.Equal(t, h, HashEmail("a@b.com"))
	assert.NotContains(t, h, "b.com")
}
