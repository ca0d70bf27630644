// SPDX-License-Identifier: MPL-2.0

package updater

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/coreupdater/internal/resolver"
)

var (
	// ErrLocked indicates another updater holds the installation root.
	ErrLocked = errors.New("installation root is locked by another updater")

	// ErrDisabled indicates an operation that needs the feed was called on
	// an updater without a feed or interface version.
	ErrDisabled = errors.New("updater is disabled")

	// ErrNotInstalled indicates the named package is not installed.
	ErrNotInstalled = errors.New("package is not installed")

	// ErrNotDeliverable indicates a package flagged skip-delivery was
	// requested directly.
	ErrNotDeliverable = errors.New("package is not delivered by the updater")

	// ErrDependencyStillRequired indicates an uninstall was refused because
	// other installed packages depend on the package.
	ErrDependencyStillRequired = errors.New("package is still required")

	// ErrUnresolvableDependency indicates a verification pass could not
	// install any of the remaining dependency gaps.
	ErrUnresolvableDependency = errors.New("unresolvable dependency")
)

type (
	// DependencyStillRequiredError lists the packages that keep Package
	// installed.
	DependencyStillRequiredError struct {
		Package    string
		Dependents []string
	}

	// UnresolvableDependencyError lists the dependency gaps left after a
	// verification pass made no progress.
	UnresolvableDependencyError struct {
		Missing []resolver.Requirement
	}
)

// Error implements the error interface.
func (e *DependencyStillRequiredError) Error() string {
	return fmt.Sprintf("%s: %s is required by %s", ErrDependencyStillRequired, e.Package, strings.Join(e.Dependents, ", "))
}

// Unwrap returns ErrDependencyStillRequired so callers can use errors.Is.
func (e *DependencyStillRequiredError) Unwrap() error { return ErrDependencyStillRequired }

// Error implements the error interface.
func (e *UnresolvableDependencyError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, r := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s (required by %s)", r, strings.Join(r.RequiredBy, ", ")))
	}
	return fmt.Sprintf("%s: %s", ErrUnresolvableDependency, strings.Join(parts, "; "))
}

// Unwrap returns ErrUnresolvableDependency so callers can use errors.Is.
func (e *UnresolvableDependencyError) Unwrap() error { return ErrUnresolvableDependency }
