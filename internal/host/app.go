// SPDX-License-Identifier: MPL-2.0

package host

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// StartModeService marks a host started by a service manager.
const StartModeService = "service"

var (
	// ErrUnknownApplication is returned by Lookup for unregistered names.
	ErrUnknownApplication = errors.New("unknown application")

	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

type (
	// LogSink receives the application's output one line at a time.
	LogSink func(line string)

	// Application is a host program the Runner can start and stop.
	Application interface {
		// Start runs the application until it exits or Shutdown is called and
		// reports whether it ran successfully.
		Start(args []string, sink LogSink) bool
		// Shutdown asks a running Start to return. It is safe to call before
		// Start or more than once.
		Shutdown()
		// IsRunningAsService reports whether a service manager started the
		// host, which selects the "service" configuration files and preloads.
		IsRunningAsService() bool
	}

	// Options is passed to a Factory.
	Options struct {
		// InstallRoot is the directory the packages are installed into.
		InstallRoot string
		// Command is the program and fixed arguments of exec-style hosts.
		Command []string
		// StartMode is "standalone" or "service".
		StartMode string
		Logger    *log.Logger
	}

	// Factory builds an Application.
	Factory func(Options) (Application, error)
)

// Register makes an application available under name. It panics if name is
// empty, factory is nil or name is already registered.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if name == "" || factory == nil {
		panic("host: Register with empty name or nil factory")
	}
	if _, dup := factories[name]; dup {
		panic("host: Register called twice for " + name)
	}
	factories[name] = factory
}

// Lookup builds the application registered under name.
func Lookup(name string, opts Options) (Application, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownApplication, name, Names())
	}
	app, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("create application %q: %w", name, err)
	}
	return app, nil
}

// Names returns the registered application names, sorted.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return slices.Clip(names)
}
