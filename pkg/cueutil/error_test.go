// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"

	cueerrors "cuelang.org/go/cue/errors"
)

func TestFormatError(t *testing.T) {
	t.Parallel()

	t.Run("nil error returns nil", func(t *testing.T) {
		t.Parallel()

		if err := FormatError(nil, "config.cue"); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("non-CUE error is wrapped with file path", func(t *testing.T) {
		t.Parallel()

		original := errors.New("disk on fire")
		err := FormatError(original, "config.cue")
		if !errors.Is(err, original) {
			t.Fatalf("errors.Is(err, original) = false for %v", err)
		}
		if !strings.HasPrefix(err.Error(), "config.cue: ") {
			t.Errorf("error should start with file path, got: %v", err)
		}
		if !strings.Contains(err.Error(), "disk on fire") {
			t.Errorf("error lost its cause: %v", err)
		}
	})

	t.Run("promoted Go error keeps its message and cause", func(t *testing.T) {
		t.Parallel()

		original := errors.New("cannot decode files")
		err := FormatError(cueerrors.Promote(original, ""), "config.cue")
		if !errors.Is(err, original) {
			t.Fatalf("errors.Is(err, original) = false for %v", err)
		}
		if !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("errors.Is(err, ErrInvalidDocument) = false for %v", err)
		}
		if !strings.Contains(err.Error(), "cannot decode files") {
			t.Errorf("message lost: %q", err.Error())
		}
	})
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     []string
		expected string
	}{
		{"empty path", []string{}, ""},
		{"single element", []string{"registry"}, "registry"},
		{"definition dropped", []string{"#Config", "name"}, "name"},
		{"list index", []string{"#Config", "files", "1"}, "files[1]"},
		{"nested", []string{"a", "0", "b", "2"}, "a[0].b[2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := formatPath(tt.path); got != tt.expected {
				t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	single := &ValidationError{
		FilePath: "config.cue",
		Issues:   []FieldIssue{{Path: "name", Message: "incomplete value string"}},
	}
	if got, want := single.Error(), "config.cue: name: incomplete value string"; got != want {
		t.Errorf("single issue = %q, want %q", got, want)
	}

	multi := &ValidationError{
		FilePath: "config.cue",
		Issues: []FieldIssue{
			{Path: "name", Message: "bad"},
			{Message: "document-level"},
		},
	}
	want := "config.cue: validation failed:\n  name: bad\n  document-level"
	if got := multi.Error(); got != want {
		t.Errorf("multi issue = %q, want %q", got, want)
	}
	if !errors.Is(multi, ErrInvalidDocument) {
		t.Error("ValidationError should unwrap to ErrInvalidDocument")
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	if err := CheckFileSize(make([]byte, 10), 10, "a.cue"); err != nil {
		t.Errorf("at limit: unexpected error %v", err)
	}
	err := CheckFileSize(make([]byte, 11), 10, "a.cue")
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("over limit: got %v", err)
	}
}
