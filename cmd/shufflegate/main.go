// Package main provides the entry point for the shufflegate CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/Sumatoshi-tech/shufflegate/cmd/shufflegate/commands"
)

func main() {
	err := commands.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
