// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/invowk/coreupdater/internal/issue"
)

const (
	// ExitUsage is returned for failures the user can correct: a package that
	// is not installed or still required, a disabled updater, a bad config.
	ExitUsage = 1
	// ExitIntegrity is returned when the feed or the downloaded content cannot
	// be trusted or reached.
	ExitIntegrity = 2
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCodeFor maps err to the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch issue.Classify(err) {
	case issue.IntegrityFailureId, issue.FeedUnavailableId, issue.ManifestInvalidId,
		issue.PackageNotFoundId, issue.UnresolvableDependencyId:
		return ExitIntegrity
	default:
		return ExitUsage
	}
}
