// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/neovateai/neovate-code-sub005/pkg/platform"
)

const (
	// LogLevelDebug logs every phase transition and file move.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs session start and outcome.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs recoverable cleanup problems only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs failures only.
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidLogLevel is the sentinel error wrapped by InvalidLogLevelError.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidRegistryURL is the sentinel error wrapped by InvalidRegistryURLError.
	ErrInvalidRegistryURL = errors.New("invalid registry URL")
	// ErrInvalidManagedPath is the sentinel error wrapped by InvalidManagedPathError.
	ErrInvalidManagedPath = errors.New("invalid managed path")
	// ErrInvalidDownloadTimeout is returned for negative timeouts.
	ErrInvalidDownloadTimeout = errors.New("invalid download timeout")
	// ErrIncompleteInstall is returned when a field required to run an upgrade is unset.
	ErrIncompleteInstall = errors.New("incomplete install configuration")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum severity the CLI logger prints.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// RegistryURL is the base URL of an npm-compatible registry.
	RegistryURL string

	// InvalidRegistryURLError is returned when a RegistryURL does not parse or
	// does not use http(s).
	InvalidRegistryURLError struct {
		Value  RegistryURL
		Reason string
	}

	// ManagedPath is a path relative to the install directory that an upgrade
	// replaces as a unit.
	ManagedPath string

	// InvalidManagedPathError is returned when a managed path escapes the
	// install directory, repeats, nests inside another managed path or uses a
	// name Windows cannot create.
	InvalidManagedPathError struct {
		Value  ManagedPath
		Reason string
	}

	// MissingFieldError names a config key that must be set before an upgrade
	// can run. It wraps ErrIncompleteInstall.
	MissingFieldError struct {
		Key string
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the upgrader configuration.
	Config struct {
		// Registry is the base URL packages are resolved against.
		Registry RegistryURL `json:"registry" mapstructure:"registry"`
		// Name is the published package name.
		Name string `json:"name" mapstructure:"name"`
		// Version is the currently installed version.
		Version string `json:"version" mapstructure:"version"`
		// InstallDir is the directory whose managed paths are replaced.
		InstallDir string `json:"install_dir" mapstructure:"install_dir"`
		// Files lists the managed paths.
		Files []ManagedPath `json:"files" mapstructure:"files"`
		// TempDir is where session work directories are created.
		TempDir string `json:"temp_dir" mapstructure:"temp_dir"`
		// DownloadTimeout bounds each registry and artifact request; 0 disables it.
		DownloadTimeout time.Duration `json:"download_timeout" mapstructure:"download_timeout"`
		// VerifyIntegrity checks artifacts against the published digest.
		VerifyIntegrity bool `json:"verify_integrity" mapstructure:"verify_integrity"`
		// LogLevel is the minimum severity logged.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// String returns the string representation of the RegistryURL.
func (r RegistryURL) String() string { return string(r) }

// IsValid returns whether the RegistryURL is an absolute http(s) URL with a host.
func (r RegistryURL) IsValid() (bool, []error) {
	u, err := url.Parse(string(r))
	switch {
	case err != nil:
		return false, []error{&InvalidRegistryURLError{Value: r, Reason: "does not parse"}}
	case u.Scheme != "http" && u.Scheme != "https":
		return false, []error{&InvalidRegistryURLError{Value: r, Reason: "must use http or https"}}
	case u.Host == "":
		return false, []error{&InvalidRegistryURLError{Value: r, Reason: "has no host"}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRegistryURLError.
func (e *InvalidRegistryURLError) Error() string {
	return fmt.Sprintf("invalid registry URL %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRegistryURL for errors.Is() compatibility.
func (e *InvalidRegistryURLError) Unwrap() error { return ErrInvalidRegistryURL }

// String returns the string representation of the ManagedPath.
func (p ManagedPath) String() string { return string(p) }

// IsValid returns whether the path is a local, non-root path without Windows
// reserved names. Uniqueness across a set is checked by validateFiles.
func (p ManagedPath) IsValid() (bool, []error) {
	s := string(p)
	switch {
	case strings.TrimSpace(s) == "":
		return false, []error{&InvalidManagedPathError{Value: p, Reason: "must be non-empty"}}
	case !filepath.IsLocal(s):
		return false, []error{&InvalidManagedPathError{Value: p, Reason: "must be relative and stay inside the install directory"}}
	case filepath.Clean(s) == ".":
		return false, []error{&InvalidManagedPathError{Value: p, Reason: "must not name the install directory itself"}}
	}
	if elem := platform.ReservedElement(s); elem != "" {
		return false, []error{&InvalidManagedPathError{Value: p, Reason: fmt.Sprintf("%q is a reserved name on Windows", elem)}}
	}
	return true, nil
}

// Error implements the error interface for InvalidManagedPathError.
func (e *InvalidManagedPathError) Error() string {
	return fmt.Sprintf("invalid managed path %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidManagedPath for errors.Is() compatibility.
func (e *InvalidManagedPathError) Unwrap() error { return ErrInvalidManagedPath }

// Error implements the error interface for MissingFieldError.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is not set", e.Key)
}

// Unwrap returns ErrIncompleteInstall for errors.Is() compatibility.
func (e *MissingFieldError) Unwrap() error { return ErrIncompleteInstall }

// IsValid returns whether the Config has valid fields. Unset install fields
// are allowed here; RequireInstall checks completeness.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if c.Registry != "" {
		if valid, fieldErrs := c.Registry.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	errs = append(errs, validateFiles(c.Files)...)
	if c.DownloadTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: %s must not be negative", ErrInvalidDownloadTimeout, c.DownloadTimeout))
	}
	if c.LogLevel != "" {
		if valid, fieldErrs := c.LogLevel.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// RequireInstall reports every key an upgrade needs that is still empty.
func (c Config) RequireInstall() error {
	var errs []error
	for _, f := range []struct {
		key   string
		unset bool
	}{
		{"registry", c.Registry == ""},
		{"name", c.Name == ""},
		{"version", c.Version == ""},
		{"install_dir", c.InstallDir == ""},
		{"files", len(c.Files) == 0},
	} {
		if f.unset {
			errs = append(errs, &MissingFieldError{Key: f.key})
		}
	}
	return errors.Join(errs...)
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors so errors.Is matches
// both the config sentinel and each field sentinel.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// validateFiles checks each managed path and rejects duplicates and paths
// nested inside another managed path.
func validateFiles(files []ManagedPath) []error {
	var errs []error
	cleaned := make([]string, 0, len(files))
	for _, p := range files {
		if valid, fieldErrs := p.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
			continue
		}
		clean := filepath.Clean(string(p))
		for _, prev := range cleaned {
			if prev == clean {
				errs = append(errs, &InvalidManagedPathError{Value: p, Reason: "listed more than once"})
				break
			}
			if isNested(clean, prev) || isNested(prev, clean) {
				errs = append(errs, &InvalidManagedPathError{Value: p, Reason: fmt.Sprintf("overlaps managed path %q", prev)})
				break
			}
		}
		cleaned = append(cleaned, clean)
	}
	return errs
}

func isNested(child, parent string) bool {
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
