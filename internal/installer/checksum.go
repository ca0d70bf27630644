// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/invowk/coreupdater/pkg/manifest"
)

// ErrInvalidPackageHash indicates an archive or installed file whose SHA-256
// digest does not match the manifest.
var ErrInvalidPackageHash = errors.New("invalid package hash")

// PackageHashError provides details about an integrity failure.
// It wraps ErrInvalidPackageHash so callers can use errors.Is for classification.
type PackageHashError struct {
	Package string
	// Path is the archive, or the archive entry, that failed.
	Path     string
	Expected manifest.Digest
	Got      manifest.Digest
}

// Error shows both digests for debugging.
func (e *PackageHashError) Error() string {
	expected := e.Expected.String()
	if e.Expected.IsZero() {
		expected = "(none recorded)"
	}
	return fmt.Sprintf("%s for %s (%s)\nExpected: %s\nGot:      %s", ErrInvalidPackageHash, e.Package, e.Path, expected, e.Got)
}

// Unwrap returns ErrInvalidPackageHash so callers can use errors.Is.
func (e *PackageHashError) Unwrap() error { return ErrInvalidPackageHash }

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (manifest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }() // read-only

	return hashReader(f, path)
}

func hashReader(r io.Reader, name string) (manifest.Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", name, err)
	}
	return manifest.Digest(h.Sum(nil)), nil
}
