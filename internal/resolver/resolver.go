// SPDX-License-Identifier: MPL-2.0

// Package resolver computes the set of packages that must be fetched to
// satisfy a requested package, skipping dependencies already satisfied by
// the installed set.
package resolver

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/invowk/coreupdater/pkg/manifest"
)

type (
	// Fetcher retrieves manifests from the feed. An empty version selects
	// the latest manifest.
	Fetcher interface {
		FetchManifest(ctx context.Context, name, iv, version string) (*manifest.Manifest, error)
	}

	// Requirement names a package and the exact version wanted, or "" for
	// any version.
	Requirement struct {
		Name    string
		Version string
		// RequiredBy lists the installed packages declaring the requirement.
		// Only set by Missing.
		RequiredBy []string
	}

	// Resolver expands dependency closures against one feed partition.
	Resolver struct {
		fetcher Fetcher
		iv      string
	}
)

// String returns "name" or "name@version".
func (r Requirement) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// New creates a Resolver fetching manifests at interface version iv.
func New(f Fetcher, iv string) *Resolver {
	return &Resolver{fetcher: f, iv: iv}
}

// Resolve returns the manifests to install for root, in discovery order,
// root first. installed maps installed package names to their versions.
//
// A dependency is satisfied, and not fetched, when it is installed and its
// constraint is empty or equal to the installed version. Each package name
// appears at most once in the result, which also makes dependency cycles
// terminate. The root itself is always fetched.
func (r *Resolver) Resolve(ctx context.Context, root Requirement, installed map[string]string) ([]*manifest.Manifest, error) {
	pending := []Requirement{{Name: root.Name, Version: root.Version}}
	queued := map[string]struct{}{root.Name: {}}
	resolved := make(map[string]struct{})

	var out []*manifest.Manifest
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := pending[0]
		pending = pending[1:]
		delete(queued, req.Name)

		m, err := r.Fetch(ctx, req)
		if err != nil {
			if req.Name == root.Name {
				return nil, fmt.Errorf("resolving %s: %w", req, err)
			}
			return nil, fmt.Errorf("resolving dependency %s of %s: %w", req, root.Name, err)
		}
		out = append(out, m)
		resolved[req.Name] = struct{}{}

		for _, dep := range m.DependencyNames() {
			want := m.Dependencies[dep]
			if _, done := resolved[dep]; done {
				continue
			}
			if have, ok := installed[dep]; ok && (want == "" || want == have) {
				continue
			}
			if _, dup := queued[dep]; dup {
				continue
			}
			queued[dep] = struct{}{}
			pending = append(pending, Requirement{Name: dep, Version: want})
		}
	}
	return out, nil
}

// Fetch retrieves the manifest for req alone, without its dependencies. A
// manifest for another package fails with manifest.ErrManifestInvalid.
func (r *Resolver) Fetch(ctx context.Context, req Requirement) (*manifest.Manifest, error) {
	m, err := r.fetcher.FetchManifest(ctx, req.Name, r.iv, req.Version)
	if err != nil {
		return nil, err
	}
	if m.Name != req.Name {
		return nil, &manifest.InvalidManifestError{
			Reason: fmt.Sprintf("feed returned manifest for %q", m.Name),
		}
	}
	return m, nil
}

// Missing returns the dependencies declared by installed packages that are
// not installed themselves, sorted by name. When several packages require
// different versions of the same gap, the constraint of the first dependent
// in name order wins.
func Missing(installed map[string]*manifest.Manifest) []Requirement {
	gaps := make(map[string]*Requirement)
	for _, name := range slices.Sorted(maps.Keys(installed)) {
		m := installed[name]
		for _, dep := range m.DependencyNames() {
			if _, ok := installed[dep]; ok {
				continue
			}
			g, ok := gaps[dep]
			if !ok {
				g = &Requirement{Name: dep, Version: m.Dependencies[dep]}
				gaps[dep] = g
			}
			g.RequiredBy = append(g.RequiredBy, name)
		}
	}

	out := make([]Requirement, 0, len(gaps))
	for _, dep := range slices.Sorted(maps.Keys(gaps)) {
		out = append(out, *gaps[dep])
	}
	return out
}
