// Command shelfctl inspects and exercises shelf files from the command
// line: listing keys, reading and writing values, and running
// counterbalance draws against any backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	app := newApp()
	if err := app.rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
