// SPDX-License-Identifier: MPL-2.0

// Package testutil provides fixtures for upgrade tests: Must* helpers that
// fail the test on error, archive builders (tar.gz, tar.zst, zip), a stub
// package registry and install-tree snapshots for before/after comparison.
package testutil
