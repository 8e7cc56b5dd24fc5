// Command noteai is the entry point for the local notes retrieval engine.
// It provides a CLI interface (via Cobra) for indexing and querying a notes
// directory and an HTTP server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/noteai-go/cmd/noteai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
