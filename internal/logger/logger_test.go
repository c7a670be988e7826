package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.SnapshotLogger().Info().Str("snapshot", "s1").Msg("created")

	line := buf.String()
	for path, want := range map[string]string{
		"service":   "cfgstore",
		"component": "snapshot",
		"snapshot":  "s1",
		"message":   "created",
		"level":     "info",
	} {
		if got := gjson.Get(line, path).String(); got != want {
			t.Errorf("%s = %q, want %q in %s", path, got, want, line)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info().Msg("hidden")
	l.LogStoreOperation("put", time.Millisecond, 1, nil)
	if buf.Len() != 0 {
		t.Fatalf("below-level output: %s", buf.String())
	}

	l.LogStoreOperation("put", time.Millisecond, 0, errors.New("boom"))
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("missing error: %s", buf.String())
	}
}

func TestLogHTTPRequestLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "info"},
		{412, "warn"},
		{503, "error"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		NewLogger(Config{Output: &buf}).LogHTTPRequest("GET", "/kv", tt.status, time.Millisecond, "req-1")
		if got := gjson.Get(buf.String(), "level").String(); got != tt.level {
			t.Errorf("status %d logged at %q, want %q", tt.status, got, tt.level)
		}
	}
}
