// Package main is the entry point for the agenttree CLI.
//
// Usage:
//
//	agenttree [flags] <command> [args]
//
// Commands:
//
//	run       - Run the configured agent tree against a session
//	validate  - Check a configuration file
//	tree      - Print the configured agent tree
package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/agenttree/cmd/agenttree/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
