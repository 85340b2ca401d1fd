// Package main is the entry point for the formengine server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "formengine",
		Short:         "Dynamic form engine: conditional logic, pagination and form sessions",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newEvalCmd())
	root.AddCommand(newPagesCmd())
	root.AddCommand(newCheckCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
