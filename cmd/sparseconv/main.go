// Package main provides the sparseconv CLI.
package main

import (
	"os"

	"github.com/born-ml/sparseconv/cmd/sparseconv/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
