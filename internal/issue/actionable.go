// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is a failure the user can act on: the step that failed,
	// the file or URL it concerned, and what to try next.
	//
	// Config loading reports a missing --config file as:
	//
	//	return issue.NewErrorContext().
	//		WithOperation("load configuration").
	//		WithResource(path).
	//		WithSuggestion("Run 'upgrader config init' to create a starter file").
	//		Wrap(fmt.Errorf("config file not found: %s", path)).
	//		BuildError()
	ActionableError struct {
		// Operation is the step that failed, phrased to follow "failed to",
		// e.g. "validate configuration" or "query registry".
		Operation string

		// Resource names the config file, install directory or artifact URL
		// involved. Optional.
		Resource string

		// Suggestions are shown one per line under the message. Optional.
		Suggestions []string

		Cause error
	}

	// ErrorContext accumulates the parts of an ActionableError. A context can
	// be prepared before the risky call and wrapped around whatever it returns:
	//
	//	ec := issue.NewErrorContext().
	//		WithOperation("query registry").
	//		WithResource(cfg.Registry.String())
	//	if err != nil {
	//		return ec.WithSuggestion("Check --registry and your network").Wrap(err).BuildError()
	//	}
	ErrorContext struct {
		operation   string
		resource    string
		suggestions []string
		cause       error
	}
)

// NewErrorContext returns an empty ErrorContext.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Error renders "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	parts := []string{"failed to " + e.Operation}
	if e.Resource != "" {
		parts = append(parts, e.Resource)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format renders the message followed by a bulleted suggestion list. With
// verbose set it also numbers every error in the cause chain; causes that
// wrap several errors, such as errors.Join results, have their children
// listed one level deeper.
func (e *ActionableError) Format(verbose bool) string {
	var b strings.Builder
	b.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		b.WriteString("\n")
		for _, s := range e.Suggestions {
			b.WriteString("\n  • " + s)
		}
	}

	if verbose && e.Cause != nil {
		b.WriteString("\n\nError chain:")
		n := 1
		writeChain(&b, e.Cause, &n, 0)
	}
	return b.String()
}

func writeChain(b *strings.Builder, err error, n *int, level int) {
	for err != nil {
		fmt.Fprintf(b, "\n  %s%d. %s", strings.Repeat("  ", level), *n, err)
		*n++
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, child := range joined.Unwrap() {
				writeChain(b, child, n, level+1)
			}
			return
		}
		err = errors.Unwrap(err)
	}
}

// WithOperation sets the step that failed.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the file, directory or URL involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithSuggestion appends one suggestion.
func (c *ErrorContext) WithSuggestion(s string) *ErrorContext {
	c.suggestions = append(c.suggestions, s)
	return c
}

// WithSuggestions appends several suggestions in order.
func (c *ErrorContext) WithSuggestions(s ...string) *ErrorContext {
	c.suggestions = append(c.suggestions, s...)
	return c
}

// Wrap sets the cause, replacing any earlier one.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// Build returns the ActionableError, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}
	return &ActionableError{
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: c.suggestions,
		Cause:       c.cause,
	}
}

// BuildError is Build for return statements: it yields an untyped nil rather
// than a nil *ActionableError when no operation was set.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}
