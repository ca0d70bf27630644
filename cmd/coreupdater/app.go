// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/coreupdater/internal/config"
	"github.com/invowk/coreupdater/internal/events"
	"github.com/invowk/coreupdater/internal/logging"
	"github.com/invowk/coreupdater/internal/metrics"
	"github.com/invowk/coreupdater/internal/updater"
)

type (
	// App wires CLI services and shared dependencies. All command handlers
	// receive an App and build their updater through it.
	App struct {
		Config ConfigProvider
		// Feed replaces the HTTP feed client, for tests.
		Feed updater.Feed

		stdout io.Writer
		stderr io.Writer

		// Set by the root command before any subcommand runs.
		cfg        *config.Config
		cfgPath    string
		logger     *log.Logger
		logCloser  io.Closer
		registry   *prometheus.Registry
		verbose    bool
		flagValues map[string]any
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		Feed   updater.Feed
		Stdout io.Writer
		Stderr io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// pathProvider is implemented by providers that report the file they loaded.
	pathProvider interface {
		LoadWithPath(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error)
	}

	fileConfigProvider struct{}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = fileConfigProvider{}
	}
	return &App{
		Config: deps.Config,
		Feed:   deps.Feed,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}
}

func (fileConfigProvider) Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error) {
	cfg, _, err := config.Load(ctx, opts)
	return cfg, err
}

func (fileConfigProvider) LoadWithPath(ctx context.Context, opts config.LoadOptions) (*config.Config, string, error) {
	return config.Load(ctx, opts)
}

// setup loads the configuration and builds the logger. It runs once per
// command invocation.
func (a *App) setup(ctx context.Context, opts config.LoadOptions) error {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if pp, ok := a.Config.(pathProvider); ok {
		cfg, path, err = pp.LoadWithPath(ctx, opts)
	} else {
		cfg, err = a.Config.Load(ctx, opts)
	}
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	logger, closer, err := logging.New(logging.Options{
		Level:      level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Output:     a.stderr,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	a.cfg = cfg
	a.cfgPath = path
	a.logger = logger
	a.logCloser = closer
	a.registry = prometheus.NewRegistry()
	return nil
}

// teardown releases what setup acquired.
func (a *App) teardown() error {
	if a.logCloser == nil {
		return nil
	}
	err := a.logCloser.Close()
	a.logCloser = nil
	return err
}

// openUpdater creates and opens an updater from the loaded configuration.
// The caller must Close it.
func (a *App) openUpdater(ctx context.Context) (*updater.Updater, error) {
	if a.cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	u, err := updater.New(updater.Options{
		InstallRoot:           a.cfg.InstallRoot,
		FeedURL:               a.cfg.FeedURL,
		Feed:                  a.Feed,
		BootstrapPackage:      a.cfg.BootstrapPackage,
		ReplacementPatterns:   a.cfg.ReplacementPatterns,
		IsolateVerifyFailures: a.cfg.Verify.IsolateFailures,
		HTTPTimeout:           a.cfg.HTTP.Timeout,
		HTTPRetryMax:          a.cfg.HTTP.RetryMax,
		UserAgent:             a.cfg.HTTP.UserAgent,
		Bus:                   events.NewBus(),
		Metrics:               metrics.New(a.registry),
		Logger:                a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := u.Open(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// withUpdater opens an updater, runs fn and closes the updater.
func (a *App) withUpdater(ctx context.Context, fn func(*updater.Updater) error) (err error) {
	u, err := a.openUpdater(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := u.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(u)
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.stdout, format, args...)
}
