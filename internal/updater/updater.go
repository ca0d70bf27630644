// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"github.com/invowk/coreupdater/internal/events"
	"github.com/invowk/coreupdater/internal/feed"
	"github.com/invowk/coreupdater/internal/installer"
	"github.com/invowk/coreupdater/internal/logging"
	"github.com/invowk/coreupdater/internal/metrics"
	"github.com/invowk/coreupdater/internal/registry"
	"github.com/invowk/coreupdater/internal/state"
	"github.com/invowk/coreupdater/pkg/manifest"
)

// DefaultBootstrapPackage names the package whose installed manifest
// establishes the interface version.
const DefaultBootstrapPackage = "coreupdater"

type (
	// Feed is the remote side of the updater.
	Feed interface {
		registry.Source
		installer.ArchiveFetcher
	}

	// Options configures an Updater.
	Options struct {
		InstallRoot string
		// FeedURL is the feed root. Ignored when Feed is set.
		FeedURL string
		// Feed overrides the HTTP feed client built from FeedURL.
		Feed             Feed
		BootstrapPackage string

		ReplacementPatterns []string
		// IsolateVerifyFailures keeps a verification pass going after a
		// package fails and returns every failure combined.
		IsolateVerifyFailures bool

		HTTPTimeout  time.Duration
		HTTPRetryMax int
		UserAgent    string

		Bus     *events.Bus
		Metrics *metrics.Metrics
		Logger  *log.Logger
	}

	// Updater is the host-facing facade. Construct it with New, then call
	// Open before any other method.
	Updater struct {
		opts   Options
		root   string
		logger *log.Logger
		bus    *events.Bus

		lock *flock.Flock

		// opMu serializes operations that change the installation.
		opMu    sync.Mutex
		enabled bool
		iv      string
		feed    Feed
		reg     *registry.Registry
		inst    *installer.Installer

		stateMu sync.Mutex
		status  *state.Status

		unsubscribe func()
		opened      bool
	}
)

// New validates opts and creates an Updater. No file is touched until Open.
func New(opts Options) (*Updater, error) {
	if opts.InstallRoot == "" {
		return nil, errors.New("updater: install root is required")
	}
	root, err := filepath.Abs(opts.InstallRoot)
	if err != nil {
		return nil, fmt.Errorf("updater: resolving install root: %w", err)
	}
	if opts.BootstrapPackage == "" {
		opts.BootstrapPackage = DefaultBootstrapPackage
	}

	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	logger := logging.OrDiscard(opts.Logger)

	return &Updater{
		opts:        opts,
		root:        root,
		logger:      logger,
		bus:         bus,
		lock:        flock.New(filepath.Join(root, "data", "updater.lock")),
		unsubscribe: bus.Subscribe(events.LoggerHandler(logger)),
	}, nil
}

// Open locks the installation root, removes staged .delete files left by an
// earlier run, loads the installed packages and reads the bootstrap manifest.
// A missing feed or bootstrap manifest leaves the updater disabled.
func (u *Updater) Open(ctx context.Context) (err error) {
	u.opMu.Lock()
	defer u.opMu.Unlock()

	if u.opened {
		return errors.New("updater: already open")
	}

	for _, dir := range []string{u.DataDir(), u.CacheDir(), u.ManifestDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	ok, err := u.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring updater lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, u.lock.Path())
	}
	defer func() {
		if err != nil {
			_ = u.lock.Unlock()
		}
	}()

	u.iv = u.readInterfaceVersion()
	if u.feed, err = u.buildFeed(); err != nil {
		return err
	}
	u.enabled = u.iv != "" && u.feed != nil

	regOpts := registry.Options{ManifestDir: u.ManifestDir(), Logger: u.logger}
	if u.enabled {
		regOpts.InterfaceVersion = u.iv
		regOpts.Feed = u.feed
	}
	u.reg = registry.New(regOpts)

	instOpts := installer.Options{
		InstallRoot:         u.root,
		CacheDir:            u.CacheDir(),
		Registry:            u.reg,
		ReplacementPatterns: u.opts.ReplacementPatterns,
		Metrics:             u.opts.Metrics,
		Logger:              u.logger,
	}
	if u.feed != nil {
		instOpts.Feed = u.feed
	}
	if u.inst, err = installer.New(instOpts); err != nil {
		return err
	}

	removed, cleanupErr := u.inst.Cleanup()
	if len(removed) > 0 {
		u.logger.Info("removed staged files", "count", len(removed))
	}
	if cleanupErr != nil {
		u.logger.Warn("some staged files could not be removed", "error", cleanupErr)
	}

	if err := u.reg.LoadInstalled(ctx); err != nil {
		return err
	}

	if u.status, err = state.Load(u.StatePath()); err != nil {
		u.logger.Warn("ignoring unreadable status file", "error", err)
		u.status = &state.Status{Installed: map[string]string{}}
	}

	u.opened = true
	u.logger.Debug("updater open", "root", u.root, "interface_version", u.iv, "enabled", u.enabled)
	return nil
}

func (u *Updater) readInterfaceVersion() string {
	path := filepath.Join(u.ManifestDir(), u.opts.BootstrapPackage+manifest.FileExt)
	m, err := manifest.ParseFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			u.logger.Info("no bootstrap manifest, updater disabled", "path", path)
		} else {
			u.logger.Warn("unreadable bootstrap manifest, updater disabled", "error", err)
		}
		return ""
	}
	return m.InterfaceVersion
}

func (u *Updater) buildFeed() (Feed, error) {
	if u.opts.Feed != nil {
		return u.opts.Feed, nil
	}
	if u.opts.FeedURL == "" {
		u.logger.Info("no feed configured, updater disabled")
		return nil, nil
	}

	opts := []feed.Option{feed.WithLogger(u.logger)}
	if u.opts.HTTPTimeout > 0 {
		opts = append(opts, feed.WithTimeout(u.opts.HTTPTimeout))
	}
	if u.opts.HTTPRetryMax > 0 {
		opts = append(opts, feed.WithRetry(u.opts.HTTPRetryMax, time.Second, 30*time.Second))
	}
	if u.opts.UserAgent != "" {
		opts = append(opts, feed.WithUserAgent(u.opts.UserAgent))
	}
	c, err := feed.New(u.opts.FeedURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("configuring feed: %w", err)
	}
	return c, nil
}

// Close releases the installation lock. It is safe to call more than once.
func (u *Updater) Close() error {
	u.opMu.Lock()
	defer u.opMu.Unlock()

	if u.unsubscribe != nil {
		u.unsubscribe()
		u.unsubscribe = nil
	}
	if !u.opened {
		return nil
	}
	u.opened = false
	if err := u.lock.Unlock(); err != nil {
		return fmt.Errorf("releasing updater lock: %w", err)
	}
	return nil
}

// Enabled reports whether a feed and an interface version are configured.
func (u *Updater) Enabled() bool { return u.enabled }

// InterfaceVersion returns the feed partition read from the bootstrap
// manifest.
func (u *Updater) InterfaceVersion() string { return u.iv }

// InstallRoot returns the absolute installation root.
func (u *Updater) InstallRoot() string { return u.root }

// DataDir returns {root}/data.
func (u *Updater) DataDir() string { return filepath.Join(u.root, "data") }

// CacheDir returns the download cache directory.
func (u *Updater) CacheDir() string { return filepath.Join(u.root, "data", "dl-cache") }

// ManifestDir returns the directory of installed manifests.
func (u *Updater) ManifestDir() string { return filepath.Join(u.root, "bin", "installed-packages") }

// StatePath returns the status file location.
func (u *Updater) StatePath() string { return state.Path(u.root) }

// Events returns the bus every operation reports to.
func (u *Updater) Events() *events.Bus { return u.bus }

// IsRestartRequired reports whether a locked file was staged for deferred
// replacement.
func (u *Updater) IsRestartRequired() bool {
	return u.inst != nil && u.inst.IsRestartRequired()
}

// InstalledPackages returns name -> version of the installed packages.
func (u *Updater) InstalledPackages() map[string]string {
	if u.reg == nil {
		return map[string]string{}
	}
	return u.reg.Snapshot(registry.Installed)
}

// AvailablePackages returns name -> version of the visible feed packages as
// of the last refresh.
func (u *Updater) AvailablePackages() map[string]string {
	if u.reg == nil {
		return map[string]string{}
	}
	return u.reg.Snapshot(registry.Available)
}

// InstalledManifests returns copies of the installed manifests.
func (u *Updater) InstalledManifests() map[string]*manifest.Manifest {
	if u.reg == nil {
		return map[string]*manifest.Manifest{}
	}
	return u.reg.Installed()
}

// Reload rescans the installed manifests, picking up changes made by other
// tools.
func (u *Updater) Reload(ctx context.Context) error {
	u.opMu.Lock()
	defer u.opMu.Unlock()
	if err := u.requireOpen(); err != nil {
		return err
	}
	return u.reg.LoadInstalled(ctx)
}

// DefaultConfigurationFiles returns the default configuration sources that
// installed packages ship for mode, ordered by package name.
func (u *Updater) DefaultConfigurationFiles(mode string) []string {
	return u.collect(func(m *manifest.Manifest) []string { return m.ConfigurationsFor(mode) })
}

// PreloadAssemblies returns the assemblies installed packages ask the host
// to preload for mode, ordered by package name.
func (u *Updater) PreloadAssemblies(mode string) []string {
	return u.collect(func(m *manifest.Manifest) []string { return m.PreloadsFor(mode) })
}

func (u *Updater) collect(pick func(*manifest.Manifest) []string) []string {
	installed := u.InstalledManifests()
	seen := make(map[string]struct{})
	var out []string
	for _, name := range slices.Sorted(maps.Keys(installed)) {
		for _, v := range pick(installed[name]) {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// Status returns a copy of the last persisted status.
func (u *Updater) Status() state.Status {
	u.stateMu.Lock()
	defer u.stateMu.Unlock()
	if u.status == nil {
		return state.Status{}
	}
	s := *u.status
	s.Installed = maps.Clone(u.status.Installed)
	return s
}

// record applies fn to the status and persists it. Persistence failures are
// logged only.
func (u *Updater) record(fn func(s *state.Status)) {
	u.stateMu.Lock()
	defer u.stateMu.Unlock()

	if u.status == nil {
		u.status = &state.Status{}
	}
	fn(u.status)
	u.status.Installed = u.InstalledPackages()
	u.status.RestartRequired = u.IsRestartRequired()
	u.status.UpdatedAt = time.Now().UTC()

	if err := state.Save(u.StatePath(), u.status); err != nil {
		u.logger.Warn("could not write status file", "error", err)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
