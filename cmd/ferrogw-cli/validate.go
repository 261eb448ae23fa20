package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	aigateway "github.com/ferro-labs/ai-gateway"
)

// validateCmd returns the command for validating a gateway configuration file.
func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			cfg, err := aigateway.LoadConfig(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := aigateway.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}

			fmt.Printf("✓ Config is valid\n")
			fmt.Printf("  Strategy:  %s\n", cfg.Strategy.Mode)
			fmt.Printf("  Targets:   %d\n", len(cfg.Targets))

			var targetNames []string
			for _, t := range cfg.Targets {
				targetNames = append(targetNames, t.VirtualKey)
			}
			fmt.Printf("  Providers: %s\n", strings.Join(targetNames, ", "))

			if len(cfg.Routing.Rules) > 0 {
				fmt.Printf("  Rules:     %d\n", len(cfg.Routing.Rules))
			}

			if len(cfg.Plugins) > 0 {
				var pluginNames []string
				for _, p := range cfg.Plugins {
					status := "disabled"
					if p.Enabled {
						status = "enabled"
					}
					pluginNames = append(pluginNames, fmt.Sprintf("%s (%s)", p.Name, status))
				}
				fmt.Printf("  Plugins:   %s\n", strings.Join(pluginNames, ", "))
			}

			return nil
		},
	}

	return cmd
}
