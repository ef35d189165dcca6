// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

func TestInit_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("domain", "tickets").Msg("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" {
		t.Errorf("Expected message 'hello', got %v", entry["message"])
	}
	if entry["domain"] != "tickets" {
		t.Errorf("Expected domain field 'tickets', got %v", entry["domain"])
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("filtered")
	Warn().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Error("Expected info line to be filtered at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("Expected warn line to be emitted")
	}
}

func TestEventHelpers_AllLevels(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "trace", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Trace().Msg("trace line")
	Debug().Msg("debug line")
	Info().Msg("info line")
	Warn().Msg("warn line")
	Error().Msg("error line")

	out := buf.String()
	for _, want := range []string{"trace line", "debug line", "info line", "warn line", "error line"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSlogHandler_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	slogger := slog.New(NewSlogHandlerWithLogger(logger))
	slogger.Info("supervised", slog.String("service", "sweeper"))

	out := buf.String()
	if !strings.Contains(out, "supervised") {
		t.Errorf("Expected message in output, got %q", out)
	}
	if !strings.Contains(out, "sweeper") {
		t.Errorf("Expected attribute in output, got %q", out)
	}
}

func TestSlogHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	slogger := slog.New(NewSlogHandlerWithLogger(logger)).WithGroup("suture")
	slogger.Warn("restarting", slog.String("service", "broadcast-relay"))

	if !strings.Contains(buf.String(), "suture.service") {
		t.Errorf("Expected grouped key 'suture.service', got %q", buf.String())
	}
}

func TestWatermillAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "trace", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	adapter := NewWatermillAdapter()
	adapter.Info("subscribed", map[string]interface{}{"topic": "opscache.mutations"})

	if !strings.Contains(buf.String(), "opscache.mutations") {
		t.Errorf("Expected topic field in output, got %q", buf.String())
	}

	child := adapter.With(map[string]interface{}{"transport": "gochannel"})
	buf.Reset()
	child.Debug("published", nil)
	if !strings.Contains(buf.String(), "gochannel") {
		t.Errorf("Expected inherited field in output, got %q", buf.String())
	}
}
