package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func captureLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h), &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]interface{}
	if err := json.Unmarshal(lines[len(lines)-1], &m); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestModuleAttachesAttribute(t *testing.T) {
	l, buf := captureLogger(slog.LevelInfo)
	l.Module("chainwatcher").Info("poll complete", "blocks", 3)

	m := lastLine(t, buf)
	if m["module"] != "chainwatcher" {
		t.Fatalf("module = %v, want chainwatcher", m["module"])
	}
	if m["msg"] != "poll complete" {
		t.Fatalf("msg = %v", m["msg"])
	}
	if m["blocks"].(float64) != 3 {
		t.Fatalf("blocks = %v, want 3", m["blocks"])
	}
}

func TestWithAddsContext(t *testing.T) {
	l, buf := captureLogger(slog.LevelInfo)
	l.With("target", "l2-bridge").Warn("relay slow")

	m := lastLine(t, buf)
	if m["target"] != "l2-bridge" {
		t.Fatalf("target = %v", m["target"])
	}
	if m["level"] != "WARN" {
		t.Fatalf("level = %v, want WARN", m["level"])
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := captureLogger(slog.LevelWarn)
	l.Debug("dropped")
	l.Info("dropped too")
	if buf.Len() != 0 {
		t.Fatalf("below-threshold records were written: %s", buf.String())
	}
	l.Error("kept")
	if buf.Len() == 0 {
		t.Fatal("error record was not written")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestSetDefaultIgnoresNil(t *testing.T) {
	orig := Default()
	SetDefault(nil)
	if Default() != orig {
		t.Fatal("SetDefault(nil) replaced the default logger")
	}

	l, _ := captureLogger(slog.LevelInfo)
	SetDefault(l)
	if Default() != l {
		t.Fatal("SetDefault did not replace the default logger")
	}
	SetDefault(orig)
}

func TestPackageLevelFunctions(t *testing.T) {
	orig := Default()
	l, buf := captureLogger(slog.LevelDebug)
	SetDefault(l)
	defer SetDefault(orig)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 4 {
		t.Fatalf("wrote %d lines, want 4", len(lines))
	}
}
