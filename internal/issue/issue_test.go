// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/invowk/coreupdater/internal/feed"
	"github.com/invowk/coreupdater/internal/installer"
	"github.com/invowk/coreupdater/internal/registry"
	"github.com/invowk/coreupdater/internal/updater"
	"github.com/invowk/coreupdater/pkg/manifest"
)

// stubRender replaces glamour for the duration of t. Tests using it must not
// run in parallel.
func stubRender(t *testing.T) {
	t.Helper()
	orig := render
	render = func(in, style string) (string, error) {
		return "rendered guidance [" + style + "]\n" + in, nil
	}
	t.Cleanup(func() { render = orig })
}

func TestCatalog_Complete(t *testing.T) {
	t.Parallel()

	for id := ConfigLoadFailedId; id <= RestartRequiredId; id++ {
		iss := Get(id)
		if iss == nil {
			t.Errorf("Get(%d) = nil", id)
			continue
		}
		if iss.Id() != id {
			t.Errorf("Get(%d).Id() = %d", id, iss.Id())
		}
		if !strings.HasPrefix(strings.TrimSpace(string(iss.MarkdownMsg())), "# ") {
			t.Errorf("issue %d markdown has no heading", id)
		}
	}
	if got, want := len(Values()), int(RestartRequiredId); got != want {
		t.Errorf("len(Values()) = %d, want %d", got, want)
	}
}

func TestIssue_Render(t *testing.T) {
	stubRender(t)

	iss := &Issue{id: 99, mdMsg: "# Title", docLinks: []HttpLink{"https://example.invalid/docs"}}
	got, err := iss.Render("")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"[" + DefaultStyle + "]", "# Title", "## See also", "https://example.invalid/docs"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q\ngot:\n%s", want, got)
		}
	}

	links := iss.DocLinks()
	links[0] = "mutated"
	if iss.DocLinks()[0] == "mutated" {
		t.Error("DocLinks() exposes internal slice")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Id
	}{
		{"nil", nil, 0},
		{"unknown", errors.New("boom"), 0},
		{"locked", fmt.Errorf("open: %w", updater.ErrLocked), InstallRootLockedId},
		{"disabled", updater.ErrDisabled, UpdaterDisabledId},
		{"not installed", fmt.Errorf("%w: app", updater.ErrNotInstalled), NotInstalledId},
		{"still required", &updater.DependencyStillRequiredError{Package: "libcore", Dependents: []string{"app"}}, StillRequiredId},
		{"not deliverable", updater.ErrNotDeliverable, NotDeliverableId},
		{"unresolvable", &updater.UnresolvableDependencyError{}, UnresolvableDependencyId},
		{"hash", &installer.PackageHashError{Package: "app@1"}, IntegrityFailureId},
		{"duplicate", &registry.DuplicatePackageError{Name: "app"}, DuplicatePackageId},
		{"manifest", &manifest.InvalidManifestError{Reason: "x"}, ManifestInvalidId},
		{"not found", fmt.Errorf("resolving: %w", feed.ErrManifestNotFound), PackageNotFoundId},
		{"feed", &feed.UnavailableError{URL: "https://feed", Status: 503}, FeedUnavailableId},
		{"permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, PermissionDeniedId},
		{"explicit issue wins", NewErrorContext().WithOperation("x").WithIssue(RestartRequiredId).Wrap(updater.ErrDisabled).BuildError(), RestartRequiredId},
		{"actionable without issue", &ActionableError{Operation: "open", Cause: updater.ErrLocked}, InstallRootLockedId},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
