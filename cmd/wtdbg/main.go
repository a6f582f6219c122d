// Command wtdbg is the debugger adapter service: it serves the control
// API, and offers CLI subcommands for interactive session management.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
