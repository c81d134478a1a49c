package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <id>",
	Short: "Register a server, wait for tool discovery, and print its status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		ctx := context.Background()

		mgr, client, err := connectEphemeral(ctx, id)
		if err != nil {
			return err
		}
		defer mgr.Dispose(ctx)

		fmt.Printf("server %q: %s\n", id, client.Status())
		if url := client.PendingOAuthURL(); url != "" {
			fmt.Printf("authorize at: %s\n", url)
		}
		if lastErr := client.LastError(); lastErr != nil {
			return fmt.Errorf("server %q: %w", id, lastErr)
		}

		tools := client.Tools()
		fmt.Printf("discovered %d tool(s)\n", len(tools))
		for name := range tools {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}
