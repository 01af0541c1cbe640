// Package main is the entry point for the cinder CLI tool.
package main

import (
	"os"

	"github.com/cinderlog/cinder/cmd/cinderctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
