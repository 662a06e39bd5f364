// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/neovateai/neovate-code-sub005/internal/config"
	"github.com/neovateai/neovate-code-sub005/internal/issue"
	"github.com/neovateai/neovate-code-sub005/internal/selfupdate"
	"github.com/neovateai/neovate-code-sub005/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code types.ExitCode
	Err  error

	// reported marks errors the command already printed.
	reported bool
}

// issueStyle is the glamour style used for remediation guides; "auto" picks
// dark or light on a terminal and plain text otherwise.
var issueStyle = "auto"

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

// classifyExitCode maps an error to the process exit code.
func classifyExitCode(err error) types.ExitCode {
	switch {
	case err == nil:
		return types.ExitSuccess
	case selfupdate.IsFatal(err):
		return types.ExitFatal
	case errors.Is(err, os.ErrPermission),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrIncompleteInstall),
		errors.Is(err, config.ErrUnknownFormat),
		errors.Is(err, selfupdate.ErrInvalidConfig),
		errors.Is(err, selfupdate.ErrPackageNotFound),
		errors.Is(err, selfupdate.ErrInvalidVersion),
		errors.Is(err, selfupdate.ErrPreflight),
		errors.Is(err, selfupdate.ErrConcurrentUpgrade),
		errors.Is(err, errNotInteractive):
		return types.ExitUserError
	case isConfigLoadError(err):
		return types.ExitUserError
	default:
		return types.ExitTransient
	}
}

// issueFor picks the remediation guide for err. Order matters: a fatal
// upgrade also carries the swap cause, and permission problems surface inside
// every phase.
func issueFor(err error) (*issue.Issue, bool) {
	var id issue.Id
	switch {
	case selfupdate.IsFatal(err):
		id = issue.FatalUpgradeId
	case errors.Is(err, os.ErrPermission):
		id = issue.PermissionDeniedId
	case errors.Is(err, config.ErrIncompleteInstall):
		id = issue.IncompleteConfigId
	case isConfigLoadError(err), errors.Is(err, config.ErrInvalidConfig), errors.Is(err, selfupdate.ErrInvalidConfig):
		id = issue.ConfigLoadFailedId
	case errors.Is(err, selfupdate.ErrConcurrentUpgrade):
		id = issue.ConcurrentUpgradeId
	case errors.Is(err, selfupdate.ErrPreflight):
		id = issue.PreflightFailedId
	case errors.Is(err, selfupdate.ErrPackageNotFound):
		id = issue.PackageNotFoundId
	case errors.Is(err, selfupdate.ErrRegistryUnreachable):
		id = issue.RegistryUnreachableId
	case errors.Is(err, selfupdate.ErrMalformedMetadata):
		id = issue.MalformedMetadataId
	case errors.Is(err, selfupdate.ErrInvalidVersion):
		id = issue.InvalidVersionId
	case errors.Is(err, selfupdate.ErrIntegrityMismatch):
		id = issue.IntegrityMismatchId
	case errors.Is(err, selfupdate.ErrDownload), errors.Is(err, selfupdate.ErrDownloadIncomplete):
		id = issue.DownloadFailedId
	case errors.Is(err, selfupdate.ErrUnsafeArchiveEntry):
		id = issue.UnsafeArchiveId
	case errors.Is(err, selfupdate.ErrExtract):
		id = issue.ExtractFailedId
	case errors.Is(err, selfupdate.ErrSwap):
		id = issue.SwapRolledBackId
	default:
		return nil, false
	}
	return issue.Get(id), true
}

// isConfigLoadError reports whether err came out of config loading, which
// always wraps its cause in an ActionableError with a configuration operation.
func isConfigLoadError(err error) bool {
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Operation {
	case "load configuration", "parse configuration", "validate configuration":
		return true
	}
	return false
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors use their Format method; in verbose mode the full error
// chain is shown.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	if verbose {
		return (&issue.ActionableError{Operation: "run command", Cause: err}).Format(true)
	}
	return err.Error()
}
