// SPDX-License-Identifier: MPL-2.0

// Package config loads upgrader settings using Viper with CUE as the file format.
//
// Configuration is read from config.cue in the platform config directory
// (~/.config/upgrader on Linux, ~/Library/Application Support/upgrader on
// macOS, %APPDATA%\upgrader on Windows) or from an explicit --config path, and
// validated against the embedded config_schema.cue. Environment variables
// prefixed UPGRADER_ override file values (UPGRADER_INSTALL_DIR, ...).
//
// Checks CUE cannot express, such as duplicate or nested managed paths, are
// done in Go and reported as typed Invalid*Error values.
package config
