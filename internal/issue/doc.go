// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and
// suggestions for the one-line CLI error. Issue is a Markdown remediation
// guide, one per failure class (registry down, integrity mismatch, failed
// rollback, ...), rendered for the terminal with glamour.
package issue
