package main

import (
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dyluth/certgen/cmd/certgen/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Honour container CPU quotas before any worker pool is sized.
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package with color formatting
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
