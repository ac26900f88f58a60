// Command atvremote pairs with and drives an Apple TV over HomeKit
// pair-setup/pair-verify and the Companion link.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
