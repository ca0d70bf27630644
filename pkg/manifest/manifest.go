// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
)

// FileExt is the extension of manifest files, both on the feed and in the
// local installed-packages directory.
const FileExt = ".manifest"

// ErrManifestInvalid is the sentinel wrapped by every parse and validation
// failure. Use errors.Is to classify.
var ErrManifestInvalid = errors.New("invalid package manifest")

type (
	// Manifest describes one installable package.
	Manifest struct {
		Name             string
		Version          string
		InterfaceVersion string
		License          string
		Description      string

		// ContentHash is the SHA-256 digest of the package archive.
		ContentHash Digest

		// SkipDelivery marks a package that is tracked but never delivered
		// by the updater.
		SkipDelivery bool

		// RequiresReplacement forces every file of the package through the
		// locked-file replacement protocol.
		RequiresReplacement bool

		// Dependencies maps a package name to the exact version required,
		// or to "" when any installed version satisfies it.
		Dependencies map[string]string

		// Files maps a slash-separated path relative to the installation
		// root to its record.
		Files map[string]FileRecord

		DefaultConfigurations []Configuration
		PreloadAssemblies     []Preload
	}

	// FileRecord is the per-file metadata of a manifest.
	FileRecord struct {
		Hash            Digest
		Version         string
		IsVersionSource bool
	}

	// Configuration names a default configuration file shipped by a package.
	// An empty StartModes list applies to every start mode.
	Configuration struct {
		Source     string
		StartModes []string
	}

	// Preload names an assembly the host loads before starting. An empty
	// StartModes list applies to every start mode.
	Preload struct {
		Filename   string
		StartModes []string
	}

	// InvalidManifestError describes why a manifest was rejected.
	// It wraps ErrManifestInvalid for errors.Is compatibility.
	InvalidManifestError struct {
		// Source is the file or URL the manifest came from, when known.
		Source string
		Reason string
		Err    error
	}
)

// Error implements the error interface.
func (e *InvalidManifestError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrManifestInvalid.Error())
	if e.Source != "" {
		fmt.Fprintf(&sb, " %s", e.Source)
	}
	if e.Reason != "" {
		fmt.Fprintf(&sb, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *InvalidManifestError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrManifestInvalid}
	}
	return []error{ErrManifestInvalid, e.Err}
}

func invalidf(format string, args ...any) *InvalidManifestError {
	return &InvalidManifestError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the manifest invariants: required identity fields, digest
// sizes, relative file paths and the absence of a self dependency.
func (m *Manifest) Validate() error {
	switch {
	case m.Name == "":
		return invalidf("missing required field %q", elemName)
	case m.Version == "":
		return invalidf("missing required field %q", elemVersion)
	case m.InterfaceVersion == "":
		return invalidf("missing required field %q", elemInterfaceVersion)
	}

	// These fields become path segments of cache files and feed URLs.
	for field, v := range map[string]string{elemName: m.Name, elemVersion: m.Version, elemInterfaceVersion: m.InterfaceVersion} {
		if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
			return invalidf("field %q: %q is not a valid path segment", field, v)
		}
	}

	if !m.ContentHash.IsZero() && len(m.ContentHash) != DigestSize {
		return invalidf("package sha256 has %d bytes, want %d", len(m.ContentHash), DigestSize)
	}

	for dep := range m.Dependencies {
		if dep == "" {
			return invalidf("dependency without a name")
		}
		if dep == m.Name {
			return invalidf("package %q depends on itself", m.Name)
		}
	}

	for name, rec := range m.Files {
		if _, err := CleanPath(name); err != nil {
			return &InvalidManifestError{Reason: fmt.Sprintf("file %q", name), Err: err}
		}
		if !rec.Hash.IsZero() && len(rec.Hash) != DigestSize {
			return invalidf("file %q sha256 has %d bytes, want %d", name, len(rec.Hash), DigestSize)
		}
	}

	for _, cfg := range m.DefaultConfigurations {
		if cfg.Source == "" {
			return invalidf("default-configuration without a source")
		}
	}
	for _, pre := range m.PreloadAssemblies {
		if pre.Filename == "" {
			return invalidf("preload-assembly without an assembly")
		}
	}

	return nil
}

// CleanPath normalizes a manifest file path and rejects paths that would
// resolve outside the installation root.
func CleanPath(p string) (string, error) {
	slashed := strings.ReplaceAll(p, `\`, "/")
	if slashed == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(slashed, "/") || (len(slashed) >= 2 && slashed[1] == ':') {
		return "", fmt.Errorf("absolute path %q not allowed", p)
	}
	clean := path.Clean(slashed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the installation root", p)
	}
	return clean, nil
}

// Clone returns a deep copy that shares no maps, slices or digests with m.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}

	c := *m
	c.ContentHash = m.ContentHash.Clone()
	c.Dependencies = maps.Clone(m.Dependencies)

	if m.Files != nil {
		c.Files = make(map[string]FileRecord, len(m.Files))
		for name, rec := range m.Files {
			rec.Hash = rec.Hash.Clone()
			c.Files[name] = rec
		}
	}

	if m.DefaultConfigurations != nil {
		c.DefaultConfigurations = make([]Configuration, len(m.DefaultConfigurations))
		for i, cfg := range m.DefaultConfigurations {
			c.DefaultConfigurations[i] = Configuration{Source: cfg.Source, StartModes: slices.Clone(cfg.StartModes)}
		}
	}
	if m.PreloadAssemblies != nil {
		c.PreloadAssemblies = make([]Preload, len(m.PreloadAssemblies))
		for i, pre := range m.PreloadAssemblies {
			c.PreloadAssemblies[i] = Preload{Filename: pre.Filename, StartModes: slices.Clone(pre.StartModes)}
		}
	}

	return &c
}

// FileNames returns the manifest file paths in sorted order.
func (m *Manifest) FileNames() []string {
	return slices.Sorted(maps.Keys(m.Files))
}

// DependencyNames returns the declared dependency names in sorted order.
func (m *Manifest) DependencyNames() []string {
	return slices.Sorted(maps.Keys(m.Dependencies))
}

// DependsOn reports whether m declares a dependency on name.
func (m *Manifest) DependsOn(name string) bool {
	_, ok := m.Dependencies[name]
	return ok
}

// ConfigurationsFor returns the default configuration sources that apply
// when the host is started as mode.
func (m *Manifest) ConfigurationsFor(mode string) []string {
	var out []string
	for _, cfg := range m.DefaultConfigurations {
		if appliesTo(cfg.StartModes, mode) {
			out = append(out, cfg.Source)
		}
	}
	return out
}

// PreloadsFor returns the assemblies to preload when the host is started as
// mode.
func (m *Manifest) PreloadsFor(mode string) []string {
	var out []string
	for _, pre := range m.PreloadAssemblies {
		if appliesTo(pre.StartModes, mode) {
			out = append(out, pre.Filename)
		}
	}
	return out
}

func appliesTo(modes []string, mode string) bool {
	return len(modes) == 0 || slices.Contains(modes, mode)
}

// String returns "name@version".
func (m *Manifest) String() string {
	return m.Name + "@" + m.Version
}
