// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"path/filepath"
	"strings"
)

// WindowsReservedNames are device names Windows reserves in every directory,
// with or without an extension.
var WindowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsWindowsReservedName reports whether name (a single path element) is a
// reserved device name. The check is case-insensitive and ignores anything
// after the first dot, so "nul.txt" is reserved too.
func IsWindowsReservedName(name string) bool {
	if name == "" {
		return false
	}
	base, _, _ := strings.Cut(name, ".")
	return WindowsReservedNames[strings.ToUpper(base)]
}

// ReservedElement returns the first element of path that is a Windows
// reserved name, or "" when there is none. Both separators are accepted.
func ReservedElement(path string) string {
	for _, elem := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' || r == '\\' }) {
		if IsWindowsReservedName(elem) {
			return elem
		}
	}
	return ""
}
