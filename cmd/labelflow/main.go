// Package main provides the entry point for the labelflow CLI.
package main

import (
	"os"

	"github.com/raphaelgruber/labelflow/internal/cli"
)

func main() {
	// Execute reports the error itself.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
