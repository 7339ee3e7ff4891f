// Package main provides the entry point for the retrievalcore CLI.
package main

import (
	"os"

	"github.com/ctxforge/retrievalcore/cmd/retrievalcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
