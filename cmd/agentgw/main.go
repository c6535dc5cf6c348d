// Package main is the entry point for the agentgw CLI.
package main

import (
	"os"

	"github.com/memorialsite/agentgw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
