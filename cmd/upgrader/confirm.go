// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// errNotInteractive is returned when a confirmation is needed but stdin is
// not a terminal.
var errNotInteractive = errors.New("confirmation required but stdin is not a terminal (pass --yes)")

// confirmPrompt asks a yes/no question on the terminal. Aborting the prompt
// (Ctrl-C, Esc) counts as "no".
func confirmPrompt(title, description string) (bool, error) {
	if !isTerminal(os.Stdin) {
		return false, errNotInteractive
	}

	confirmed := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Upgrade").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return confirmed, err
}

// isTerminal reports whether f is an interactive terminal. Character devices
// such as /dev/null are not.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
