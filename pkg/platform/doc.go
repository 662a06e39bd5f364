// SPDX-License-Identifier: MPL-2.0

// Package platform provides cross-platform compatibility utilities.
//
// It names the GOOS values the rest of the module switches on and knows
// which file names Windows refuses to create, so managed paths that could
// never be installed there are rejected up front.
package platform
