// Package main is the entry point for the caststream daemon.
package main

import (
	"os"

	"github.com/caststream/caststream/cmd/caststream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
