// Package main provides riskctl, the command-line client for offline
// risk scoring, evaluation and rule management.
package main

import (
	"os"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
