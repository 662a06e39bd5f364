// SPDX-License-Identifier: MPL-2.0

// Package selfupdate upgrades an installed application in place from an
// npm-compatible package registry.
//
// An Orchestrator is built from an InstallConfig naming the registry, the
// package, the installed version, the install directory and the managed paths
// inside it. Check asks the registry for the latest release; Upgrade
// downloads the release artifact, unpacks it into a staging directory and
// swaps each managed path into place, rolling back on failure.
//
// The package is organized by stage:
//   - registry.go: package document lookup (RegistryClient)
//   - version.go: semantic version ordering (Compare, HasUpdate)
//   - download.go: artifact streaming to a temp file (Downloader)
//   - integrity.go: SRI and shasum verification
//   - extract.go: tar.gz, tar.zst, tar and zip unpacking with path validation (Extractor)
//   - swap.go: backup, install and rollback of managed paths (FileSwapper)
//   - status.go: synchronous status events (Emitter)
//   - orchestrator.go: the session state machine tying the stages together
//
// Every failure is an *Error carrying the Phase it happened in and one of the
// Err* kinds, except a failed rollback, which is a *FatalError: the install
// directory may then be inconsistent and the original files are left in
// FatalError.BackupDir.
package selfupdate
