package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferro-labs/ai-gateway/plugin"

	// Register built-in plugins so they appear in the plugin list.
	_ "github.com/ferro-labs/ai-gateway/internal/plugins/cache"
	_ "github.com/ferro-labs/ai-gateway/internal/plugins/logger"
	_ "github.com/ferro-labs/ai-gateway/internal/plugins/maxtoken"
	_ "github.com/ferro-labs/ai-gateway/internal/plugins/wordfilter"
)

// pluginsCmd returns the command for listing registered plugins.
func pluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List all registered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := plugin.RegisteredPlugins()
			if len(names) == 0 {
				fmt.Println("No plugins registered.")
				return nil
			}
			fmt.Println("Registered plugins:")
			for _, name := range names {
				factory, _ := plugin.GetFactory(name)
				p := factory()
				fmt.Printf("  %-20s type=%s\n", name, p.Type())
			}
			return nil
		},
	}

	return cmd
}
