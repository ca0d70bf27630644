// SPDX-License-Identifier: MPL-2.0

package feed

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrFeedUnavailable indicates the feed could not be reached or answered
	// with an unexpected status.
	ErrFeedUnavailable = errors.New("package feed unavailable")

	// ErrManifestNotFound indicates the feed has no manifest for the
	// requested package (and version).
	ErrManifestNotFound = errors.New("package manifest not found on feed")
)

// UnavailableError carries the request that failed. It wraps
// ErrFeedUnavailable so callers can use errors.Is for classification.
type UnavailableError struct {
	URL string
	// Status is the HTTP status code, or 0 for transport failures.
	Status int
	Err    error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: GET %s: unexpected status %d", ErrFeedUnavailable, e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: GET %s: %v", ErrFeedUnavailable, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s: GET %s", ErrFeedUnavailable, e.URL)
	}
}

// Unwrap returns both ErrFeedUnavailable and the transport cause.
func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFeedUnavailable}
	}
	return []error{ErrFeedUnavailable, e.Err}
}

// redactURL strips credentials, query parameters and fragments so request
// URLs can be included in errors and logs.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
