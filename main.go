// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/neovateai/neovate-code-sub005/cmd/upgrader"

func main() {
	cmd.Execute()
}
