// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"github.com/invowk/coreupdater/pkg/manifest"
)

// Tx is the view of the registry handed to Update callbacks. It is only
// valid for the duration of the callback.
type Tx struct {
	r *Registry
}

// Installed returns a copy of the installed manifest of name.
func (tx *Tx) Installed(name string) (*manifest.Manifest, bool) {
	m, ok := tx.r.installed[name]
	return m.Clone(), ok
}

// Dependents returns the sorted names of installed packages depending on name.
func (tx *Tx) Dependents(name string) []string {
	return dependents(tx.r.installed, name)
}

// PutInstalled records m as installed. The registry keeps its own copy.
func (tx *Tx) PutInstalled(m *manifest.Manifest) {
	tx.r.installed[m.Name] = m.Clone()
}

// DeleteInstalled forgets the installed package name.
func (tx *Tx) DeleteInstalled(name string) {
	delete(tx.r.installed, name)
}

// ManifestPath returns the path of the manifest file of name.
func (tx *Tx) ManifestPath(name string) string {
	return tx.r.ManifestPath(name)
}
