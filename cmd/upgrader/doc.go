// SPDX-License-Identifier: MPL-2.0

// Package cmd implements the upgrader command line: check for a newer release
// of a registry-installed package, upgrade it in place, and manage the
// configuration that describes the installation.
//
// Command handlers are thin: flag parsing and config loading happen in the
// cobra layer, while runCheck and runUpgrade take plain parameter structs so
// they can be tested against a stub registry.
package cmd
