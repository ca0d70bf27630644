// SPDX-License-Identifier: MPL-2.0

// Package installer downloads, verifies and unpacks package archives into the
// installation root, and re-verifies installed packages against the digests
// their manifests record.
//
// Files that a running process may hold open (libraries and executables) are
// never overwritten in place. They are deleted first; when deletion fails the
// old file is renamed to "<path>.delete", the new file is written at the
// original path and a restart is flagged. Cleanup removes the staged files
// on the next clean start.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

	"github.com/invowk/coreupdater/internal/events"
	"github.com/invowk/coreupdater/internal/logging"
	"github.com/invowk/coreupdater/internal/metrics"
	"github.com/invowk/coreupdater/internal/registry"
	"github.com/invowk/coreupdater/pkg/manifest"
)

// DeleteSuffix marks a file staged for deletion after a restart.
const DeleteSuffix = ".delete"

// DefaultReplacementPatterns select the files that go through the locked-file
// replacement protocol when Options.ReplacementPatterns is empty.
var DefaultReplacementPatterns = []string{"**/*.dll", "**/*.exe", "**/*.so", "**/*.dylib"}

type (
	// ArchiveFetcher streams a package archive into a local file.
	ArchiveFetcher interface {
		FetchArchive(ctx context.Context, m *manifest.Manifest, destPath string) (int64, error)
	}

	// Options configures an Installer.
	Options struct {
		InstallRoot string
		// CacheDir holds downloaded archives. Skipped by Cleanup.
		CacheDir            string
		Registry            *registry.Registry
		Feed                ArchiveFetcher
		ReplacementPatterns []string
		Metrics             *metrics.Metrics
		Logger              *log.Logger
	}

	// Installer owns the restart flag of the process it runs in.
	Installer struct {
		root     string
		cacheDir string
		reg      *registry.Registry
		feed     ArchiveFetcher
		patterns []string
		metrics  *metrics.Metrics
		logger   *log.Logger

		restart atomic.Bool

		// File system seams, replaced in tests to simulate locked files.
		removeFile func(string) error
		renameFile func(oldpath, newpath string) error
	}
)

// New validates opts and creates an Installer.
func New(opts Options) (*Installer, error) {
	if opts.InstallRoot == "" {
		return nil, errors.New("installer: install root is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("installer: registry is required")
	}

	patterns := opts.ReplacementPatterns
	if len(patterns) == 0 {
		patterns = DefaultReplacementPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("installer: invalid replacement pattern %q", p)
		}
	}

	return &Installer{
		root:       opts.InstallRoot,
		cacheDir:   opts.CacheDir,
		reg:        opts.Registry,
		feed:       opts.Feed,
		patterns:   patterns,
		metrics:    opts.Metrics,
		logger:     logging.OrDiscard(opts.Logger),
		removeFile: os.Remove,
		renameFile: os.Rename,
	}, nil
}

// IsRestartRequired reports whether a locked file was staged for replacement
// or a previously staged replacement is still pending.
func (in *Installer) IsRestartRequired() bool {
	return in.restart.Load()
}

func (in *Installer) flagRestart() {
	in.restart.Store(true)
	in.metrics.SetRestartRequired(true)
}

// CachePath returns the cache entry of m: {iv}-{version}-{name}.zip.
func (in *Installer) CachePath(m *manifest.Manifest) string {
	return filepath.Join(in.cacheDir, fmt.Sprintf("%s-%s-%s.zip", m.InterfaceVersion, m.Version, m.Name))
}

// Install runs Download, VerifyArchive, Extract and Commit for m. On error
// the registry is unchanged and no manifest is written. Integrity failures
// also delete the cache entry.
func (in *Installer) Install(ctx context.Context, m *manifest.Manifest, ev events.Emitter) error {
	ev = ev.ForPackage(m.Name)

	archive, err := in.Download(ctx, m, ev)
	if err != nil {
		ev.Errorf("download of %s failed: %v", m, err)
		return err
	}

	if err := in.VerifyArchive(m, archive); err != nil {
		ev.Errorf("archive of %s rejected: %v", m, err)
		return err
	}

	err = in.reg.Update(func(tx *registry.Tx) error {
		return in.commit(tx, m, archive, ev)
	})
	if err != nil {
		if errors.Is(err, ErrInvalidPackageHash) {
			in.purge(archive, ev)
			in.metrics.ArchiveHashFailure()
		}
		ev.Errorf("installation of %s failed: %v", m, err)
		return err
	}

	in.metrics.PackageInstalled(m.Name)
	ev.Infof("installed %s", m)
	return nil
}

// Download makes sure the cache entry of m exists and returns its path.
// An existing entry is reused without contacting the feed.
func (in *Installer) Download(ctx context.Context, m *manifest.Manifest, ev events.Emitter) (string, error) {
	path := in.CachePath(m)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		ev.Debugf("using cached archive %s", filepath.Base(path))
		return path, nil
	}
	if in.feed == nil {
		return "", fmt.Errorf("downloading %s: no feed configured", m)
	}

	ev.Infof("downloading %s", m)
	n, err := in.feed.FetchArchive(ctx, m, path)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", m, err)
	}
	in.metrics.Downloaded(n)
	ev.Infof("downloaded %s (%s)", m, humanize.IBytes(uint64(n)))
	return path, nil
}

// VerifyArchive compares the SHA-256 digest of the cached archive with the
// manifest. On mismatch, or when the manifest records no digest, the cache
// entry is deleted and a *PackageHashError returned.
func (in *Installer) VerifyArchive(m *manifest.Manifest, archive string) error {
	got, err := HashFile(archive)
	if err != nil {
		in.purge(archive, events.Emitter{})
		return fmt.Errorf("verifying archive of %s: %w", m, err)
	}
	if m.ContentHash.IsZero() || !got.Equal(m.ContentHash) {
		in.purge(archive, events.Emitter{})
		in.metrics.ArchiveHashFailure()
		return &PackageHashError{Package: m.String(), Path: archive, Expected: m.ContentHash, Got: got}
	}
	return nil
}

func (in *Installer) purge(archive string, ev events.Emitter) {
	if err := os.Remove(archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		in.logger.Warn("could not delete cache entry", "path", archive, "error", err)
		return
	}
	ev.Debugf("deleted cache entry %s", filepath.Base(archive))
}

// VerifyInstalled hashes every file of m that records a digest. A missing
// file, a directory in its place or a different digest is a mismatch and
// reported as false with a nil error.
func (in *Installer) VerifyInstalled(m *manifest.Manifest) (bool, error) {
	for _, name := range m.FileNames() {
		rec := m.Files[name]
		if rec.Hash.IsZero() {
			continue
		}
		path, err := in.target(name)
		if err != nil {
			return false, err
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
				in.logger.Debug("installed file missing", "package", m.Name, "file", name)
				return false, nil
			}
			return false, err
		}
		if info.IsDir() {
			return false, nil
		}

		got, err := HashFile(path)
		if err != nil {
			return false, err
		}
		if !got.Equal(rec.Hash) {
			in.logger.Debug("installed file changed", "package", m.Name, "file", name)
			return false, nil
		}
	}
	return true, nil
}

// Remove deletes the files of the installed package m and its manifest file,
// then forgets it. Locked replacement-class files are staged as .delete.
func (in *Installer) Remove(tx *registry.Tx, m *manifest.Manifest, ev events.Emitter) error {
	ev = ev.ForPackage(m.Name)
	for _, name := range m.FileNames() {
		path, err := in.target(name)
		if err != nil {
			return err
		}
		if err := in.retire(path, in.needsReplacement(m, name), ev); err != nil {
			return err
		}
	}

	if err := os.Remove(tx.ManifestPath(m.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing manifest of %s: %w", m.Name, err)
	}
	tx.DeleteInstalled(m.Name)
	ev.Infof("uninstalled %s", m)
	return nil
}

// Cleanup deletes every *.delete file under the installation root, outside
// the download cache. Files that still cannot be deleted are returned in the
// error; the walk continues past them.
func (in *Installer) Cleanup() (removed []string, err error) {
	var failures []error
	walkErr := filepath.WalkDir(in.root, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			if errors.Is(werr, fs.ErrNotExist) && path == in.root {
				return fs.SkipAll
			}
			failures = append(failures, werr)
			return nil
		}
		if d.IsDir() {
			if in.cacheDir != "" && filepath.Clean(path) == filepath.Clean(in.cacheDir) {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), DeleteSuffix) {
			return nil
		}
		if rmErr := in.removeFile(path); rmErr != nil {
			failures = append(failures, fmt.Errorf("removing staged file: %w", rmErr))
			return nil
		}
		removed = append(removed, path)
		return nil
	})
	if walkErr != nil {
		failures = append(failures, walkErr)
	}
	return removed, joinFailures(failures)
}

// target maps a manifest path to a location under the installation root.
func (in *Installer) target(name string) (string, error) {
	rel, err := manifest.CleanPath(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(in.root, filepath.FromSlash(rel)), nil
}

// needsReplacement reports whether the file name of m must go through the
// locked-file protocol.
func (in *Installer) needsReplacement(m *manifest.Manifest, name string) bool {
	if m.RequiresReplacement {
		return true
	}
	rel, err := manifest.CleanPath(name)
	if err != nil {
		return false
	}
	return in.matchesReplacement(rel)
}

func (in *Installer) matchesReplacement(rel string) bool {
	lower := strings.ToLower(rel)
	for _, p := range in.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, lower); ok {
			return true
		}
	}
	return false
}

// isNotDir reports a path whose parent is a regular file.
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

func joinFailures(errs []error) error {
	var merr *multierror.Error
	for _, err := range errs {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
