// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"runtime"
	"testing"

	"github.com/neovateai/neovate-code-sub005/pkg/platform"
)

// SetConfigHome points the platform's user configuration directory at dir and
// returns a cleanup function that restores the previous value.
//
// Platform handling:
//   - Windows: Sets APPDATA
//   - macOS: Sets HOME (config lives in ~/Library/Application Support)
//   - Linux/others: Sets XDG_CONFIG_HOME
func SetConfigHome(t testing.TB, dir string) func() {
	t.Helper()

	switch runtime.GOOS {
	case platform.Windows:
		return MustSetenv(t, "APPDATA", dir)
	case platform.Darwin:
		return MustSetenv(t, "HOME", dir)
	default:
		return MustSetenv(t, "XDG_CONFIG_HOME", dir)
	}
}
