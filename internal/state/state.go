// SPDX-License-Identifier: MPL-2.0

// Package state persists a small TOML status document describing the last
// updater activity. Readers such as tray or status tools consume it without
// taking the updater lock.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the status file name inside the data directory.
const FileName = "updater-state.toml"

// Status is the persisted document.
type Status struct {
	LastCheck       time.Time         `toml:"last_check"`
	LastVerify      time.Time         `toml:"last_verify"`
	LastVerifyOK    bool              `toml:"last_verify_ok"`
	RestartRequired bool              `toml:"restart_required"`
	LastError       string            `toml:"last_error,omitempty"`
	Installed       map[string]string `toml:"installed"`
	UpdatedAt       time.Time         `toml:"updated_at"`
}

// Path returns the status file location for an installation root.
func Path(installRoot string) string {
	return filepath.Join(installRoot, "data", FileName)
}

// Load reads the status file. A missing file yields an empty Status.
func Load(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Status{Installed: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading status file: %w", err)
	}

	var s Status
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing status file %s: %w", path, err)
	}
	if s.Installed == nil {
		s.Installed = map[string]string{}
	}
	return &s, nil
}

// Save writes s to path through a temporary file, so readers never observe
// a partial document.
func Save(path string, s *Status) (err error) {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.toml")
	if err != nil {
		return fmt.Errorf("creating status file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing status file: %w", err)
	}
	return nil
}
