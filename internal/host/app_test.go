// SPDX-License-Identifier: MPL-2.0

package host

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRegisterLookup(t *testing.T) {
	t.Parallel()

	app := newFakeApp()
	var got Options
	Register("test-lookup", func(opts Options) (Application, error) {
		got = opts
		return app, nil
	})

	a, err := Lookup("test-lookup", Options{InstallRoot: "/opt/app", StartMode: StartModeService})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if a != app || got.InstallRoot != "/opt/app" {
		t.Errorf("Lookup() = %v with options %+v", a, got)
	}
	if !slices.Contains(Names(), ExecAppName) {
		t.Errorf("Names() = %v, want the built-in %q", Names(), ExecAppName)
	}

	if _, err := Lookup("no-such-app", Options{}); !errors.Is(err, ErrUnknownApplication) {
		t.Errorf("Lookup(unknown) error = %v, want ErrUnknownApplication", err)
	}
}

func TestRegister_Panics(t *testing.T) {
	t.Parallel()

	Register("test-dup", func(Options) (Application, error) { return nil, nil })

	tests := []struct {
		name    string
		regName string
		factory Factory
	}{
		{name: "duplicate", regName: "test-dup", factory: func(Options) (Application, error) { return nil, nil }},
		{name: "empty name", regName: "", factory: func(Options) (Application, error) { return nil, nil }},
		{name: "nil factory", regName: "test-nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Error("Register() did not panic")
				}
			}()
			Register(tt.regName, tt.factory)
		})
	}
}

func TestLookup_FactoryError(t *testing.T) {
	t.Parallel()

	if _, err := Lookup(ExecAppName, Options{}); !errors.Is(err, ErrNoCommand) {
		t.Errorf("Lookup(exec, no command) error = %v, want ErrNoCommand", err)
	}
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
}

// lines collects sink output.
type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) sink(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, line)
}

func TestExecApp_ForwardsOutput(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	root := t.TempDir()
	script := filepath.Join(root, "bin", "host.sh")
	if err := os.MkdirAll(filepath.Dir(script), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"started $1\"\necho oops >&2\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	app, err := NewExecApp(Options{InstallRoot: root, Command: []string{"bin/host.sh"}})
	if err != nil {
		t.Fatalf("NewExecApp() error = %v", err)
	}
	var out lines
	if ok := app.Start([]string{"now"}, out.sink); !ok {
		t.Fatal("Start() = false, want true")
	}
	slices.Sort(out.got)
	if !slices.Equal(out.got, []string{"oops", "started now"}) {
		t.Errorf("output = %q", out.got)
	}
}

func TestExecApp_ExitStatus(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	tests := []struct {
		name    string
		command []string
		want    bool
	}{
		{name: "success", command: []string{"sh", "-c", "exit 0"}, want: true},
		{name: "non-zero exit", command: []string{"sh", "-c", "exit 3"}, want: false},
		{name: "missing program", command: []string{"./does-not-exist"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, err := NewExecApp(Options{InstallRoot: t.TempDir(), Command: tt.command})
			if err != nil {
				t.Fatalf("NewExecApp() error = %v", err)
			}
			if got := app.Start(nil, nil); got != tt.want {
				t.Errorf("Start() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecApp_Shutdown(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	app, err := NewExecApp(Options{InstallRoot: t.TempDir(), Command: []string{"sh", "-c", "echo ready; exec sleep 30"}})
	if err != nil {
		t.Fatalf("NewExecApp() error = %v", err)
	}

	ready := make(chan struct{})
	var once sync.Once
	result := make(chan bool, 1)
	go func() {
		result <- app.Start(nil, func(line string) {
			if strings.Contains(line, "ready") {
				once.Do(func() { close(ready) })
			}
		})
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("application did not start")
	}
	app.Shutdown()

	select {
	case ok := <-result:
		if !ok {
			t.Error("Start() after Shutdown = false, want true")
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
	app.Shutdown()
}

func TestExecApp_IsRunningAsService(t *testing.T) {
	t.Parallel()

	for mode, want := range map[string]bool{StartModeService: true, "standalone": false, "": false} {
		app, err := NewExecApp(Options{Command: []string{"true"}, StartMode: mode})
		if err != nil {
			t.Fatal(err)
		}
		if got := app.IsRunningAsService(); got != want {
			t.Errorf("IsRunningAsService() with mode %q = %v, want %v", mode, got, want)
		}
	}
}
