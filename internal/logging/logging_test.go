// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = closer.Close() }()

	logger.Info("hidden message")
	logger.Warn("visible message", "package", "core")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Errorf("info message written at warn level:\n%s", out)
	}
	if !strings.Contains(out, "visible message") || !strings.Contains(out, "package=core") {
		t.Errorf("warn message missing:\n%s", out)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, _, err := New(Options{Format: "JSON", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("installed", "package", "core")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "installed" || entry["package"] != "core" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNew_RotatedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "coreupdater.log")
	var buf bytes.Buffer
	logger, closer, err := New(Options{File: path, Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Error("verification failed")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "verification failed") {
		t.Errorf("log file missing entry:\n%s", data)
	}
	if !strings.Contains(buf.String(), "verification failed") {
		t.Errorf("primary output missing entry:\n%s", buf.String())
	}
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	t.Parallel()

	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("New() accepted an unknown level")
	}
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("New() accepted an unknown format")
	}
}

func TestOrDiscard(t *testing.T) {
	t.Parallel()

	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	OrDiscard(nil).Error("dropped")
}
