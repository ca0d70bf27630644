// SPDX-License-Identifier: MPL-2.0

// Command coreupdater keeps an application installation current from a
// package feed.
package main

import cmd "github.com/invowk/coreupdater/cmd/coreupdater"

func main() {
	cmd.Execute()
}
