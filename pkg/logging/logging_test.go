package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONLoggerCarriesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(New(&buf, "debug", "json"))

	WithComponent("endpoint.flask").Debug("polling", "task_id", "abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if rec["service"] != "textgen" {
		t.Errorf("service = %v, want textgen", rec["service"])
	}
	if rec["component"] != "endpoint.flask" {
		t.Errorf("component = %v, want endpoint.flask", rec["component"])
	}
	if rec["task_id"] != "abc" {
		t.Errorf("task_id = %v, want abc", rec["task_id"])
	}
}

func TestTextFormatAndLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "text")

	l.Info("dropped")
	l.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=kept") {
		t.Errorf("expected text handler output, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"nope":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
