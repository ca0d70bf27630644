// SPDX-License-Identifier: MPL-2.0

// Package registry holds the in-memory view of installed and available
// packages. Installed mirrors the manifest files on disk; Available caches the
// manifests fetched from the feed. Both maps are mutated only under the write
// lock and are read through deep copies.
package registry

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/invowk/coreupdater/internal/feed"
	"github.com/invowk/coreupdater/internal/logging"
	"github.com/invowk/coreupdater/pkg/manifest"
)

// ErrDuplicatePackage indicates two local manifest files declare the same
// package name.
var ErrDuplicatePackage = errors.New("duplicate installed package")

// Installed and Available select the map a Snapshot is taken from.
const (
	Installed Which = iota
	Available
)

type (
	// Which selects a registry map.
	Which int

	// Source is the part of the feed client the registry needs.
	Source interface {
		FetchIndex(ctx context.Context, iv string) ([]string, map[string]bool, error)
		FetchManifest(ctx context.Context, name, iv, version string) (*manifest.Manifest, error)
	}

	// Options configures a Registry.
	Options struct {
		// ManifestDir holds one *.manifest file per installed package.
		ManifestDir string
		// InterfaceVersion selects the feed partition. Empty disables
		// RefreshAvailable.
		InterfaceVersion string
		Feed             Source
		Logger           *log.Logger
	}

	// Registry is safe for concurrent use.
	Registry struct {
		manifestDir string
		iv          string
		feed        Source
		logger      *log.Logger

		mu        sync.RWMutex
		installed map[string]*manifest.Manifest
		available map[string]*manifest.Manifest
		hidden    map[string]struct{}
	}

	// DuplicatePackageError names the two files that claim the same package.
	DuplicatePackageError struct {
		Name   string
		First  string
		Second string
	}
)

// Error implements the error interface.
func (e *DuplicatePackageError) Error() string {
	return fmt.Sprintf("%s %q: declared by %s and %s", ErrDuplicatePackage, e.Name, e.First, e.Second)
}

// Unwrap returns ErrDuplicatePackage so callers can use errors.Is.
func (e *DuplicatePackageError) Unwrap() error { return ErrDuplicatePackage }

// String returns "installed" or "available".
func (w Which) String() string {
	switch w {
	case Installed:
		return "installed"
	case Available:
		return "available"
	default:
		return "unknown"
	}
}

// New creates an empty registry. Call LoadInstalled to populate it.
func New(opts Options) *Registry {
	return &Registry{
		manifestDir: opts.ManifestDir,
		iv:          opts.InterfaceVersion,
		feed:        opts.Feed,
		logger:      logging.OrDiscard(opts.Logger),
		installed:   make(map[string]*manifest.Manifest),
		available:   make(map[string]*manifest.Manifest),
		hidden:      make(map[string]struct{}),
	}
}

// InterfaceVersion returns the feed partition the registry refreshes from.
func (r *Registry) InterfaceVersion() string {
	return r.iv
}

// ManifestDir returns the directory scanned by LoadInstalled.
func (r *Registry) ManifestDir() string {
	return r.manifestDir
}

// ManifestPath returns the path of the manifest file of an installed package.
func (r *Registry) ManifestPath(name string) string {
	return filepath.Join(r.manifestDir, name+manifest.FileExt)
}

// LoadInstalled rescans the manifest directory and replaces Installed. On any
// error Installed is left unchanged. A missing directory yields an empty set.
func (r *Registry) LoadInstalled(ctx context.Context) error {
	paths, err := filepath.Glob(filepath.Join(r.manifestDir, "*"+manifest.FileExt))
	if err != nil {
		return fmt.Errorf("listing installed manifests: %w", err)
	}
	slices.Sort(paths)

	loaded := make(map[string]*manifest.Manifest, len(paths))
	origin := make(map[string]string, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		m, err := manifest.ParseFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Removed between Glob and open.
				continue
			}
			return fmt.Errorf("loading installed packages: %w", err)
		}
		if first, dup := origin[m.Name]; dup {
			return &DuplicatePackageError{Name: m.Name, First: first, Second: p}
		}
		origin[m.Name] = p
		loaded[m.Name] = m
	}

	r.mu.Lock()
	r.installed = loaded
	r.mu.Unlock()

	r.logger.Debug("loaded installed packages", "count", len(loaded), "dir", r.manifestDir)
	return nil
}

// RefreshAvailable pulls the feed index and a manifest for every installed
// package plus every indexed package, then merges them into Available. It
// reports false without touching the network when no interface version is
// configured.
//
// Index failures are logged and the refresh continues with the installed
// packages. A missing manifest for an installed package that is not indexed
// is logged and skipped. Any other error aborts the refresh before Available
// is modified.
func (r *Registry) RefreshAvailable(ctx context.Context) (bool, error) {
	if r.iv == "" || r.feed == nil {
		return false, nil
	}

	names, hiddenFlags, indexErr := r.feed.FetchIndex(ctx, r.iv)
	if indexErr != nil {
		if !errors.Is(indexErr, feed.ErrFeedUnavailable) {
			return true, indexErr
		}
		r.logger.Warn("package index unavailable, refreshing installed packages only", "error", indexErr)
	}
	indexed := make(map[string]struct{}, len(names))
	for _, n := range names {
		indexed[n] = struct{}{}
	}

	r.mu.RLock()
	wanted := slices.Sorted(maps.Keys(r.installed))
	r.mu.RUnlock()
	for _, n := range names {
		if !slices.Contains(wanted, n) {
			wanted = append(wanted, n)
		}
	}

	fetched := make(map[string]*manifest.Manifest, len(wanted))
	for _, name := range wanted {
		m, err := r.feed.FetchManifest(ctx, name, r.iv, "")
		if err != nil {
			if _, onIndex := indexed[name]; !onIndex && errors.Is(err, feed.ErrManifestNotFound) {
				r.logger.Warn("installed package not on feed", "package", name)
				continue
			}
			return true, fmt.Errorf("refreshing %s: %w", name, err)
		}
		if m.Name != name {
			return true, fmt.Errorf("refreshing %s: %w", name, &manifest.InvalidManifestError{
				Reason: fmt.Sprintf("feed returned manifest for %q", m.Name),
			})
		}
		fetched[name] = m
	}

	r.mu.Lock()
	maps.Copy(r.available, fetched)
	if indexErr == nil {
		r.hidden = make(map[string]struct{}, len(hiddenFlags))
		for name, h := range hiddenFlags {
			if h {
				r.hidden[name] = struct{}{}
			}
		}
	}
	r.mu.Unlock()

	r.logger.Debug("refreshed available packages", "count", len(fetched))
	return true, nil
}

// Snapshot returns name -> version for Installed, or for Available minus the
// hidden packages.
func (r *Registry) Snapshot(which Which) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string)
	switch which {
	case Installed:
		for name, m := range r.installed {
			out[name] = m.Version
		}
	case Available:
		for name, m := range r.available {
			if _, hidden := r.hidden[name]; hidden {
				continue
			}
			out[name] = m.Version
		}
	}
	return out
}

// Installed returns deep copies of every installed manifest.
func (r *Registry) Installed() map[string]*manifest.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.installed)
}

// InstalledManifest returns a copy of the installed manifest of name.
func (r *Registry) InstalledManifest(name string) (*manifest.Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.installed[name]
	return m.Clone(), ok
}

// AvailableManifest returns a copy of the cached feed manifest of name.
func (r *Registry) AvailableManifest(name string) (*manifest.Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.available[name]
	return m.Clone(), ok
}

// IsHidden reports whether the feed flagged name as hidden.
func (r *Registry) IsHidden(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.hidden[name]
	return ok
}

// Dependents returns the sorted names of installed packages that declare a
// dependency on name.
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return dependents(r.installed, name)
}

// Update runs fn under the write lock. File effects performed by fn and the
// map changes it makes through the Tx are observed together by readers.
func (r *Registry) Update(fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&Tx{r: r})
}

func dependents(installed map[string]*manifest.Manifest, name string) []string {
	var out []string
	for other, m := range installed {
		if other != name && m.DependsOn(name) {
			out = append(out, other)
		}
	}
	slices.Sort(out)
	return out
}

func cloneAll(in map[string]*manifest.Manifest) map[string]*manifest.Manifest {
	out := make(map[string]*manifest.Manifest, len(in))
	for name, m := range in {
		out[name] = m.Clone()
	}
	return out
}
