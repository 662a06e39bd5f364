// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
	"time"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError} {
		if valid, errs := l.IsValid(); !valid {
			t.Errorf("%q should be valid, got %v", l, errs)
		}
	}

	valid, errs := LogLevel("trace").IsValid()
	if valid || len(errs) != 1 || !errors.Is(errs[0], ErrInvalidLogLevel) {
		t.Errorf("trace: valid=%v errs=%v", valid, errs)
	}
}

func TestRegistryURL_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value RegistryURL
		want  bool
	}{
		{"https://registry.npmjs.org", true},
		{"http://127.0.0.1:4873/", true},
		{"ftp://example.com", false},
		{"registry.npmjs.org", false},
		{"https://", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		valid, errs := tt.value.IsValid()
		if valid != tt.want {
			t.Errorf("RegistryURL(%q).IsValid() = %v, want %v", tt.value, valid, tt.want)
		}
		if !valid && !errors.Is(errs[0], ErrInvalidRegistryURL) {
			t.Errorf("RegistryURL(%q): error %v should wrap ErrInvalidRegistryURL", tt.value, errs[0])
		}
	}
}

func TestManagedPath_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value ManagedPath
		want  bool
	}{
		{"dist", true},
		{"bin/tool", true},
		{"package.json", true},
		{"", false},
		{"   ", false},
		{".", false},
		{"..", false},
		{"../outside", false},
		{"/abs/path", false},
		{"dist/../..", false},
		{"lib/con.js", false},
	}

	for _, tt := range tests {
		valid, errs := tt.value.IsValid()
		if valid != tt.want {
			t.Errorf("ManagedPath(%q).IsValid() = %v (%v), want %v", tt.value, valid, errs, tt.want)
		}
		if !valid && !errors.Is(errs[0], ErrInvalidManagedPath) {
			t.Errorf("ManagedPath(%q): error should wrap ErrInvalidManagedPath", tt.value)
		}
	}
}

func TestValidateFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []ManagedPath
		errs  int
	}{
		{"distinct", []ManagedPath{"dist", "bin", "package.json"}, 0},
		{"duplicate", []ManagedPath{"dist", "dist"}, 1},
		{"duplicate after clean", []ManagedPath{"dist", "dist/"}, 1},
		{"child after parent", []ManagedPath{"dist", "dist/cli.js"}, 1},
		{"parent after child", []ManagedPath{"dist/cli.js", "dist"}, 1},
		{"shared prefix is not nesting", []ManagedPath{"dist", "dist-legacy"}, 0},
		{"invalid entries reported individually", []ManagedPath{"..", "/x", "ok"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := validateFiles(tt.files); len(got) != tt.errs {
				t.Errorf("validateFiles(%v) = %v, want %d error(s)", tt.files, got, tt.errs)
			}
		})
	}
}

func TestConfig_IsValid(t *testing.T) {
	t.Parallel()

	if valid, errs := DefaultConfig().IsValid(); !valid {
		t.Fatalf("DefaultConfig() should be valid, got %v", errs)
	}

	bad := Config{
		Registry:        "ftp://x",
		Files:           []ManagedPath{"a", "a"},
		DownloadTimeout: -time.Second,
		LogLevel:        "loud",
	}
	valid, errs := bad.IsValid()
	if valid || len(errs) != 1 {
		t.Fatalf("IsValid() = %v, %v", valid, errs)
	}

	var ice *InvalidConfigError
	if !errors.As(errs[0], &ice) {
		t.Fatalf("expected *InvalidConfigError, got %T", errs[0])
	}
	if len(ice.FieldErrors) != 4 {
		t.Errorf("FieldErrors = %v, want 4", ice.FieldErrors)
	}
	for _, sentinel := range []error{ErrInvalidConfig, ErrInvalidRegistryURL, ErrInvalidManagedPath, ErrInvalidDownloadTimeout, ErrInvalidLogLevel} {
		if !errors.Is(errs[0], sentinel) {
			t.Errorf("errors.Is(err, %v) = false", sentinel)
		}
	}
}

func TestConfig_RequireInstall(t *testing.T) {
	t.Parallel()

	err := DefaultConfig().RequireInstall()
	if !errors.Is(err, ErrIncompleteInstall) {
		t.Fatalf("expected ErrIncompleteInstall, got %v", err)
	}
	for _, key := range []string{"name", "version", "install_dir", "files"} {
		found := false
		for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
			var mf *MissingFieldError
			if errors.As(e, &mf) && mf.Key == key {
				found = true
			}
		}
		if !found {
			t.Errorf("missing key %q not reported in %v", key, err)
		}
	}

	complete := Config{
		Registry:   DefaultRegistry,
		Name:       "tool",
		Version:    "1.0.0",
		InstallDir: "/opt/tool",
		Files:      []ManagedPath{"dist"},
	}
	if err := complete.RequireInstall(); err != nil {
		t.Errorf("complete config: %v", err)
	}
}
