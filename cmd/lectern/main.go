// Command lectern manages the content sync engine: importing the source
// corpus into the canonical store, serving the sync API, and running
// client replica sync passes.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
