package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var flagCallInput string

func init() {
	callCmd.Flags().StringVar(&flagCallInput, "input", "{}", "JSON object passed as the tool's input")
}

var callCmd = &cobra.Command{
	Use:   "call <tool-name>",
	Short: "Register the server described by --command/--url and call one of its tools",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		ctx := context.Background()

		mgr, _, err := connectEphemeral(ctx, "server")
		if err != nil {
			return err
		}
		defer mgr.Dispose(ctx)

		var input map[string]any
		if err := json.Unmarshal([]byte(flagCallInput), &input); err != nil {
			return fmt.Errorf("parse --input: %w", err)
		}

		tool, ok := mgr.GetTool(name)
		if !ok {
			return fmt.Errorf("no tool named %q", name)
		}

		result, err := tool.Execute(ctx, input)
		if err != nil {
			return fmt.Errorf("call %q: %w", name, err)
		}

		for _, block := range result.Content {
			switch block.Type {
			case "text":
				fmt.Println(block.Text)
			default:
				fmt.Printf("[%s block]\n", block.Type)
			}
		}
		if result.IsError {
			return fmt.Errorf("tool %q returned an error result", name)
		}
		return nil
	},
}
