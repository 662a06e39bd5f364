// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrInvalidDocument is wrapped by every *ValidationError.
var ErrInvalidDocument = errors.New("invalid CUE document")

type (
	// FieldIssue is one problem found in a document.
	FieldIssue struct {
		Path    string // JSON-style path, e.g. "files[1]"; empty for document-level issues
		Message string
	}

	// ValidationError collects the issues CUE reported for one document.
	ValidationError struct {
		FilePath string
		Issues   []FieldIssue
		Err      error // The error CUE reported, kept for errors.Is/As
	}
)

// Error renders "<file>: <path>: <message>" for a single issue and an
// indented list otherwise.
func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			lines = append(lines, is.Message)
			continue
		}
		lines = append(lines, is.Path+": "+is.Message)
	}
	if len(lines) == 1 {
		return fmt.Sprintf("%s: %s", e.FilePath, lines[0])
	}
	return fmt.Sprintf("%s: validation failed:\n  %s", e.FilePath, strings.Join(lines, "\n  "))
}

// Unwrap returns ErrInvalidDocument and the original error.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidDocument}
	}
	return []error{ErrInvalidDocument, e.Err}
}

// FormatError converts a CUE error into a *ValidationError for filePath.
// Errors that did not come from CUE are only prefixed with filePath.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	ve := &ValidationError{FilePath: filePath, Err: err}
	for _, e := range cueerrors.Errors(err) {
		path := formatPath(e.Path())
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if msg == "" {
			// Promoted Go errors carry their text only in Error().
			msg = strings.TrimSpace(strings.TrimPrefix(e.Error(), ":"))
		}
		ve.Issues = append(ve.Issues, FieldIssue{Path: path, Message: msg})
	}
	return ve
}

// formatPath turns CUE's ["files", "1"] into "files[1]" and drops leading
// definition names such as "#Config".
func formatPath(path []string) string {
	var sb strings.Builder
	for _, part := range path {
		if strings.HasPrefix(part, "#") {
			continue
		}
		if isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize fails when data is larger than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", filename, len(data), maxSize)
	}
	return nil
}
