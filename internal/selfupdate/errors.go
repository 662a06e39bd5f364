// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRegistryUnreachable indicates the registry could not be reached (connection
	// failure, timeout, or a 5xx/429 answer).
	ErrRegistryUnreachable = errors.New("registry unreachable")
	// ErrPackageNotFound indicates the registry does not know the requested package.
	ErrPackageNotFound = errors.New("package not found")
	// ErrMalformedMetadata indicates the registry document could not be parsed
	// into a latest version and artifact URL.
	ErrMalformedMetadata = errors.New("malformed registry metadata")
	// ErrInvalidVersion indicates a version string is not a valid semantic version.
	ErrInvalidVersion = errors.New("invalid semantic version")

	// ErrDownload indicates a transport failure while retrieving the artifact.
	ErrDownload = errors.New("download failed")
	// ErrDownloadIncomplete indicates fewer (or more) bytes were written than the
	// source declared.
	ErrDownloadIncomplete = errors.New("download incomplete")
	// ErrDownloadCancelled indicates the download was aborted through its context.
	ErrDownloadCancelled = errors.New("download cancelled")
	// ErrIntegrityMismatch indicates the downloaded artifact does not match the
	// integrity digest published for it.
	ErrIntegrityMismatch = errors.New("artifact integrity mismatch")

	// ErrUnsafeArchiveEntry indicates an archive entry would resolve outside the
	// staging directory.
	ErrUnsafeArchiveEntry = errors.New("unsafe archive entry")
	// ErrExtract indicates a corrupt, truncated, oversized or unsupported archive.
	ErrExtract = errors.New("extraction failed")

	// ErrSwap indicates a managed path could not be swapped; the install
	// directory was rolled back to its pre-upgrade state.
	ErrSwap = errors.New("swap failed")
	// ErrFatalUpgrade indicates rollback itself failed and the install directory
	// is in an unknown state.
	ErrFatalUpgrade = errors.New("fatal upgrade error")

	// ErrInvalidConfig indicates an InstallConfig failed validation.
	ErrInvalidConfig = errors.New("invalid install configuration")
	// ErrPreflight indicates the upgrade could not start: the artifact URL is
	// unusable or the install directory is missing.
	ErrPreflight = errors.New("pre-flight check failed")

	// ErrConcurrentUpgrade indicates an upgrade session is already active on the
	// orchestrator.
	ErrConcurrentUpgrade = errors.New("upgrade already in progress")
)

type (
	// Error is the error type surfaced by Check and Upgrade. It records the
	// phase the failure occurred in, the failure kind (one of the Err* sentinels
	// above) and the underlying cause. errors.Is matches both Kind and Cause.
	Error struct {
		Phase Phase
		Kind  error
		Cause error
	}

	// FatalError is returned when a swap failed and restoring the original
	// content failed too. BackupDir is left on disk so an operator can recover
	// the original managed paths by hand.
	FatalError struct {
		SwapErr     error   // The failure that triggered rollback
		RollbackErr []error // Every rollback step that failed
		BackupDir   string  // Location of the preserved original content
	}
)

func newError(phase Phase, kind, cause error) *Error {
	return &Error{Phase: phase, Kind: kind, Cause: cause}
}

// Error formats the failure as "<phase>: <kind>: <cause>".
func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Phase, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Phase, e.Kind, e.Cause)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Error summarizes the swap failure, the rollback failures and where the
// original content was left.
func (e *FatalError) Error() string {
	var sb strings.Builder
	sb.WriteString("fatal upgrade error: ")
	fmt.Fprintf(&sb, "swap failed (%v)", e.SwapErr)
	for _, rbErr := range e.RollbackErr {
		fmt.Fprintf(&sb, "; rollback failed (%v)", rbErr)
	}
	if e.BackupDir != "" {
		fmt.Fprintf(&sb, "; original files preserved in %s", e.BackupDir)
	}
	return sb.String()
}

// Unwrap returns ErrFatalUpgrade and the swap cause so callers can use errors.Is.
func (e *FatalError) Unwrap() []error {
	return []error{ErrFatalUpgrade, e.SwapErr}
}

// IsFatal reports whether err means the install directory may be inconsistent
// and needs manual intervention rather than a retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalUpgrade)
}

// IsRetryable reports whether repeating the failed operation can reasonably
// succeed. Fatal errors and malformed version strings are not retryable.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidVersion):
		return false
	case errors.Is(err, ErrRegistryUnreachable),
		errors.Is(err, ErrPackageNotFound),
		errors.Is(err, ErrMalformedMetadata),
		errors.Is(err, ErrDownload),
		errors.Is(err, ErrDownloadIncomplete),
		errors.Is(err, ErrDownloadCancelled),
		errors.Is(err, ErrIntegrityMismatch),
		errors.Is(err, ErrUnsafeArchiveEntry),
		errors.Is(err, ErrExtract),
		errors.Is(err, ErrSwap),
		errors.Is(err, ErrConcurrentUpgrade):
		return true
	default:
		return false
	}
}

// PhaseOf returns the phase recorded on err, or the empty phase when err did
// not originate from this package.
func PhaseOf(err error) Phase {
	var e *Error
	if errors.As(err, &e) {
		return e.Phase
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return PhaseInstalling
	}
	return ""
}
