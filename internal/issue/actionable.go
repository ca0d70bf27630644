// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strconv"
	"strings"
)

type (
	// ActionableError reports a failed updater operation together with what
	// the user can do about it.
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("install package").
	//		WithResource("libcore").
	//		WithSuggestion("Run 'coreupdater list --available'").
	//		Wrap(originalErr).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase, e.g. "install package".
		Operation string

		// Resource is the package name or path involved (optional).
		Resource string

		// Issue links to the catalog entry with longer guidance. Build fills
		// it from the cause when unset.
		Issue Id

		Suggestions []string

		Cause error
	}

	// ErrorContext builds ActionableErrors. A context can be reused: every
	// Build copies its state.
	ErrorContext struct {
		operation   string
		resource    string
		issue       Id
		suggestions []string
		cause       error
	}
)

// NewErrorContext creates a new ErrorContext builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Wrap is shorthand for an ActionableError classified from err. It returns
// nil for a nil err.
func Wrap(err error, operation, resource string) error {
	if err == nil {
		return nil
	}
	return NewErrorContext().WithOperation(operation).WithResource(resource).Wrap(err).BuildError()
}

// Error returns "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	var msg strings.Builder
	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)
	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

// Unwrap returns the cause for errors.Is/As.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format renders the error for the terminal. Suggestions follow the message
// as a bullet list. Verbose output adds the numbered cause chain and the
// rendered catalog guidance.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n")
		for _, s := range e.Suggestions {
			msg.WriteString("\n  • ")
			msg.WriteString(s)
		}
	}
	if !verbose {
		return msg.String()
	}

	if e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		for i, err := 1, e.Cause; err != nil; i, err = i+1, errors.Unwrap(err) {
			msg.WriteString("\n  " + strconv.Itoa(i) + ". " + err.Error())
		}
	}
	if iss := Get(e.Issue); iss != nil {
		if rendered, err := iss.Render(""); err == nil {
			msg.WriteString("\n")
			msg.WriteString(rendered)
		}
	}
	return msg.String()
}

// WithOperation sets the operation being performed.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the package or path involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithIssue links the error to a catalog entry, overriding classification.
func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	c.issue = id
	return c
}

// WithSuggestion adds a hint. It can be called repeatedly.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.suggestions = append(c.suggestions, sug)
	return c
}

// Wrap sets the cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// Build creates the ActionableError, or returns nil when no operation is
// set. Without an explicit issue the cause is classified.
func (c *ErrorContext) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}
	id := c.issue
	if id == 0 {
		id = Classify(c.cause)
	}
	return &ActionableError{
		Operation:   c.operation,
		Resource:    c.resource,
		Issue:       id,
		Suggestions: append([]string(nil), c.suggestions...),
		Cause:       c.cause,
	}
}

// BuildError is Build returning an error interface, nil when Build is nil.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}
