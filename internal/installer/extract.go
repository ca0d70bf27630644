// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/klauspost/compress/zip"

	"github.com/invowk/coreupdater/internal/events"
	"github.com/invowk/coreupdater/internal/registry"
	"github.com/invowk/coreupdater/pkg/manifest"
)

// maxEntryBytes caps a single extracted file (1 GB) against decompression
// bombs.
const maxEntryBytes = 1 << 30

// placement is one archive entry bound to its installed location.
type placement struct {
	name  string // manifest path
	rel   string // cleaned, slash-separated
	entry *zip.File
	want  manifest.Digest
}

// commit extracts the verified archive of m and records m as installed. It
// runs under the registry write lock.
func (in *Installer) commit(tx *registry.Tx, m *manifest.Manifest, archive string, ev events.Emitter) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("opening archive of %s: %w", m, err)
	}
	defer func() { _ = zr.Close() }() // read-only

	plan, err := planExtraction(m, archive, zr.File)
	if err != nil {
		return err
	}

	// Every recorded digest is checked before the installation root is
	// touched.
	for _, p := range plan {
		if p.want.IsZero() {
			continue
		}
		got, err := hashEntry(p.entry)
		if err != nil {
			return err
		}
		if !got.Equal(p.want) {
			return &PackageHashError{Package: m.String(), Path: archive + "!" + p.rel, Expected: p.want, Got: got}
		}
	}

	placed := make(map[string]struct{}, len(plan))
	for _, p := range plan {
		dst := filepath.Join(in.root, filepath.FromSlash(p.rel))
		if err := in.place(dst, p.entry, in.needsReplacement(m, p.name), ev); err != nil {
			return err
		}
		placed[p.rel] = struct{}{}
	}

	if previous, ok := tx.Installed(m.Name); ok {
		for _, name := range previous.FileNames() {
			rel, err := manifest.CleanPath(name)
			if err != nil {
				continue
			}
			if _, kept := placed[rel]; kept {
				continue
			}
			dst := filepath.Join(in.root, filepath.FromSlash(rel))
			if err := in.retire(dst, in.needsReplacement(previous, name), ev); err != nil {
				return err
			}
			ev.Debugf("removed %s, no longer shipped by %s", rel, m.Name)
		}
	}

	manifestPath := tx.ManifestPath(m.Name)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	if err := m.Serialize(manifestPath); err != nil {
		return fmt.Errorf("recording %s: %w", m, err)
	}
	tx.PutInstalled(m)
	return nil
}

// planExtraction binds the files m lists to archive entries. A manifest that
// lists no files installs every entry of the archive.
func planExtraction(m *manifest.Manifest, archive string, files []*zip.File) ([]placement, error) {
	entries := make(map[string]*zip.File, len(files))
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		rel, err := manifest.CleanPath(f.Name)
		if err != nil {
			return nil, fmt.Errorf("archive of %s: entry %q: %w", m, f.Name, err)
		}
		entries[rel] = f
	}

	if len(m.Files) == 0 {
		plan := make([]placement, 0, len(entries))
		for _, rel := range slices.Sorted(maps.Keys(entries)) {
			plan = append(plan, placement{name: rel, rel: rel, entry: entries[rel]})
		}
		return plan, nil
	}

	plan := make([]placement, 0, len(m.Files))
	for _, name := range m.FileNames() {
		rel, err := manifest.CleanPath(name)
		if err != nil {
			return nil, err
		}
		f, ok := entries[rel]
		if !ok {
			return nil, fmt.Errorf("archive %s lacks %s listed by %s", filepath.Base(archive), rel, m)
		}
		plan = append(plan, placement{name: name, rel: rel, entry: f, want: m.Files[name].Hash})
	}
	return plan, nil
}

func hashEntry(f *zip.File) (manifest.Digest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening archive entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }() // read-only

	return hashReader(io.LimitReader(rc, maxEntryBytes), f.Name)
}

// place writes entry to dst. Replacement-class files that already exist are
// moved out of the way first.
func (in *Installer) place(dst string, entry *zip.File, replace bool, ev events.Emitter) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dst, err)
	}

	if replace {
		if _, err := os.Lstat(dst); err == nil {
			if err := in.stage(dst, ev); err != nil {
				return err
			}
		}
	}

	return writeEntry(dst, entry)
}

// stage clears dst for a new file. The file is deleted when possible;
// otherwise it is renamed to dst.delete and a restart is flagged. A .delete
// left over from an earlier install flags a restart on its own.
func (in *Installer) stage(dst string, ev events.Emitter) error {
	pending := dst + DeleteSuffix
	if _, err := os.Lstat(pending); err == nil {
		in.flagRestart()
		ev.Warnf("replacement of %s is still pending a restart", filepath.Base(dst))
		_ = in.removeFile(pending)
	}

	if err := in.removeFile(dst); err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := in.renameFile(dst, pending); err != nil {
		return fmt.Errorf("staging %s for replacement: %w", dst, err)
	}
	in.flagRestart()
	ev.Warnf("%s is in use; staged as %s, restart required", filepath.Base(dst), filepath.Base(pending))
	return nil
}

// retire deletes a file that is no longer installed.
func (in *Installer) retire(path string, replace bool, ev events.Emitter) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if replace {
		return in.stage(path, ev)
	}
	if err := in.removeFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

func writeEntry(dst string, entry *zip.File) (err error) {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", entry.Name, err)
	}
	defer func() { _ = rc.Close() }() // read-only

	perm := entry.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", dst, closeErr)
		}
	}()

	if _, err := io.Copy(out, io.LimitReader(rc, maxEntryBytes)); err != nil {
		return fmt.Errorf("extracting %s: %w", entry.Name, err)
	}
	return nil
}
