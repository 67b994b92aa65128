// Package main is the entry point for the rotarr daemon.
package main

import (
	"os"

	"github.com/jmylchreest/rotarr/cmd/rotarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
