package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup(Options{Level: "info", Format: "json", Out: &buf})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer closer.Close()

	logger.Debug().Msg("hidden")
	logger.Info().Str("module", "test").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["message"] != "visible" || entry["module"] != "test" || entry["level"] != "info" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tshare.log")
	logger, closer, err := Setup(Options{Level: "debug", Format: "json", File: path, Quiet: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Debug().Msg("to file")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q", data)
	}
}

func TestSetupBadLevel(t *testing.T) {
	if _, _, err := Setup(Options{Level: "shouty"}); err == nil {
		t.Fatal("expected error for bad level")
	}
}
