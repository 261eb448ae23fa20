// Package main provides the ferrogw-cli command-line tool for managing the FerroGateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/ai-gateway/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "ferrogw-cli",
		Short:   "FerroGateway command line tool",
		Long:    "ferrogw-cli manages FerroGateway configuration, plugins, and the running admin plane.",
		Version: version.String(),
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(pluginsCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
