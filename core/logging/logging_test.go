package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(Options{Level: "warn", Out: &buf}), "engine")

	log.Info().Msg("hidden")
	log.Warn().Int("fd", 7).Msg("slow client")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line at warn level, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["component"] != "engine" || entry["message"] != "slow client" || entry["fd"] != float64(7) {
		t.Errorf("Unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected a timestamp")
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Env: "development", Out: &buf})
	log.Info().Msg("hello")

	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected console output in development, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("Expected message in output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
