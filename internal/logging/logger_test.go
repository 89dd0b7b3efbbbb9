package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterEmitsJSONOutsideLocal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "production", "info")
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}
	child := Component(logger, "discovery")
	child.Info().Int64("source_id", 4).Msg("source fetched")
	logger.Debug().Msg("dropped")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "zeke" || line["env"] != "production" || line["component"] != "discovery" {
		t.Fatalf("unexpected fields %v", line)
	}
	if line["source_id"] != float64(4) || line["message"] != "source fetched" {
		t.Fatalf("unexpected fields %v", line)
	}
}

func TestNewWithWriterRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := NewWithWriter(&bytes.Buffer{}, "local", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewWithWriterEmptyLevelDefaultsToInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "staging", "")
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at default level: %q", buf.String())
	}
	logger.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatalf("info line missing")
	}
}
