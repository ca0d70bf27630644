// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/invowk/coreupdater/internal/updater"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "verify installation"},
			expected: "failed to verify installation",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "install package", Resource: "libcore"},
			expected: "failed to install package: libcore",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "install package",
				Resource:  "libcore",
				Cause:     errors.New("feed unavailable"),
			},
			expected: "failed to install package: libcore: feed unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("underlying error")
	err := &ActionableError{Operation: "uninstall package", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if (&ActionableError{Operation: "x"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestActionableError_Format(t *testing.T) {
	tests := []struct {
		name     string
		err      *ActionableError
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name: "suggestions",
			err: &ActionableError{
				Operation:   "install package",
				Resource:    "libcore",
				Suggestions: []string{"Run 'coreupdater check'", "Check feed_url"},
			},
			contains: []string{"failed to install package: libcore", "• Run 'coreupdater check'", "• Check feed_url"},
		},
		{
			name: "no chain when not verbose",
			err: &ActionableError{
				Operation: "load configuration",
				Cause:     errors.New("syntax error"),
				Issue:     ConfigLoadFailedId,
			},
			contains: []string{"failed to load configuration: syntax error"},
			excludes: []string{"Error chain:", "rendered guidance"},
		},
		{
			name: "nested chain and guidance when verbose",
			err: &ActionableError{
				Operation: "check for updates",
				Issue:     FeedUnavailableId,
				Cause: &ActionableError{
					Operation: "fetch index",
					Cause:     errors.New("connection refused"),
				},
			},
			verbose: true,
			contains: []string{
				"Error chain:",
				"1. failed to fetch index: connection refused",
				"2. connection refused",
				"rendered guidance",
			},
		},
	}

	stubRender(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Format(tt.verbose)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Format() missing %q\ngot:\n%s", s, got)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("Format() should not contain %q\ngot:\n%s", s, got)
				}
			}
		})
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("libcore").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if NewErrorContext().BuildError() != nil {
		t.Error("BuildError() without operation should return nil")
	}

	cause := errors.New("parse error")
	err := NewErrorContext().
		WithOperation("load configuration").
		WithResource("/etc/coreupdater/config.cue").
		WithIssue(ConfigLoadFailedId).
		WithSuggestion("Check syntax").
		WithSuggestion("Remove the file").
		Wrap(cause).
		Build()

	if err.Operation != "load configuration" || err.Resource != "/etc/coreupdater/config.cue" {
		t.Errorf("Build() = %+v", err)
	}
	if err.Issue != ConfigLoadFailedId {
		t.Errorf("Issue = %d, want %d", err.Issue, ConfigLoadFailedId)
	}
	if len(err.Suggestions) != 2 {
		t.Errorf("Suggestions = %v, want 2", err.Suggestions)
	}
	if !errors.Is(err, cause) {
		t.Error("Build() lost the cause")
	}
}

func TestErrorContext_ClassifiesCause(t *testing.T) {
	t.Parallel()

	err := NewErrorContext().WithOperation("open updater").Wrap(fmt.Errorf("x: %w", updater.ErrLocked)).Build()
	if err.Issue != InstallRootLockedId {
		t.Errorf("Issue = %d, want InstallRootLockedId", err.Issue)
	}
	if NewErrorContext().WithOperation("noop").Build().Issue != 0 {
		t.Error("Build() without cause should leave Issue unset")
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()

	if Wrap(nil, "install package", "app") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	cause := fmt.Errorf("%w: app", updater.ErrNotInstalled)
	var ae *ActionableError
	if !errors.As(Wrap(cause, "uninstall package", "app"), &ae) {
		t.Fatal("Wrap() should return *ActionableError")
	}
	if ae.Resource != "app" || ae.Issue != NotInstalledId || !errors.Is(ae, updater.ErrNotInstalled) {
		t.Errorf("Wrap() = %+v", ae)
	}
}

func TestErrorContext_Reuse(t *testing.T) {
	t.Parallel()

	ctx := NewErrorContext().WithOperation("install package").WithResource("app")
	err1 := ctx.Wrap(errors.New("error 1")).Build()
	err2 := ctx.Wrap(errors.New("error 2")).Build()

	if err1.Cause.Error() == err2.Cause.Error() {
		t.Error("reused context should allow different causes")
	}
	if err1.Operation != err2.Operation {
		t.Error("reused context should preserve operation")
	}

	err1.Suggestions = append(err1.Suggestions, "mutated")
	if len(ctx.WithSuggestion("a").Build().Suggestions) != 1 {
		t.Error("built errors should not share the suggestion slice")
	}
}
