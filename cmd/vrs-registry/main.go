// Package main provides the vrs-registry command-line tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inodb/vrs-registry/internal/httpapi"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	httpapi.Version = version

	root := &cobra.Command{
		Use:           "vrs-registry",
		Short:         "Registry for GA4GH VRS variation objects",
		Version:       fmt.Sprintf("%s (%s) built %s", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newAnnotateCmd())
	root.AddCommand(newIngestCmd())
	root.AddCommand(newWipeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
