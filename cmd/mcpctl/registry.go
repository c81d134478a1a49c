package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"zypher/internal/mcpmanager"
	"zypher/internal/registry"
	"zypher/internal/zconfig"
)

var registerRegistryCmd = &cobra.Command{
	Use:   "register-registry <package>",
	Short: "Resolve an @scope/name package through the MCP store and register it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg := args[0]
		ctx := context.Background()

		cfg, err := zconfig.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		mgr := mcpmanager.New()
		mgr.SetRegistry(registry.NewClient(cfg))
		defer mgr.Dispose(ctx)

		if err := mgr.RegisterServerFromRegistry(ctx, pkg, true, nil); err != nil {
			return fmt.Errorf("register %s: %w", pkg, err)
		}

		for id, info := range mgr.Servers() {
			fmt.Printf("server %q (%s): %s\n", id, info.Source.PackageIdentifier, info.Client.Status())
			for name := range info.Client.Tools() {
				fmt.Printf("  %s\n", name)
			}
		}
		return nil
	},
}
