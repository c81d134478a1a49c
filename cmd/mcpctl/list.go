package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"zypher/internal/mcpmanager"
	zstrings "zypher/pkg/strings"
)

var flagManifest string

func init() {
	for _, cmd := range []*cobra.Command{listServersCmd, listToolsCmd} {
		cmd.Flags().StringVar(&flagManifest, "manifest", "", "YAML file listing multiple servers (overrides --command/--url)")
	}
}

var listServersCmd = &cobra.Command{
	Use:   "list-servers",
	Short: "Register every server in --manifest (or the single --command/--url server) and list their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		mgr, cleanup, err := registerFromManifestOrFlags(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ID", "STATUS", "TOOLS"})
		for id, info := range mgr.Servers() {
			t.AppendRow(table.Row{id, string(info.Client.Status()), len(info.Client.Tools())})
		}
		t.Render()
		return nil
	},
}

var listToolsCmd = &cobra.Command{
	Use:   "list-tools",
	Short: "Register every server in --manifest (or the single --command/--url server) and list their merged tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		mgr, cleanup, err := registerFromManifestOrFlags(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"NAME", "DESCRIPTION"})
		for name, tool := range mgr.Tools() {
			t.AppendRow(table.Row{name, zstrings.TruncateDescription(tool.Description, zstrings.DefaultDescriptionMaxLen)})
		}
		t.Render()
		return nil
	},
}

// registerFromManifestOrFlags builds one ephemeral Manager covering either
// every entry in --manifest or the single server described by the shared
// --command/--url flags, and returns a cleanup func that disposes it.
func registerFromManifestOrFlags(ctx context.Context) (*mcpmanager.Manager, func(), error) {
	mgr := mcpmanager.New()
	cleanup := func() { _ = mgr.Dispose(ctx) }

	if flagManifest == "" {
		endpoint, err := buildEndpoint("server")
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		oauthCfg, err := oauthClientConfig(endpoint)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		watchAuth(mgr, oauthCfg)
		if err := mgr.RegisterServer(ctx, endpoint, true, mcpmanager.Source{Kind: "direct"}, oauthCfg); err != nil {
			cleanup()
			return nil, nil, err
		}
		return mgr, cleanup, nil
	}

	entries, err := LoadManifest(flagManifest)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	for _, entry := range entries {
		endpoint, err := entry.ToEndpoint()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		oauthCfg, err := oauthClientConfig(endpoint)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		watchAuth(mgr, oauthCfg)
		if err := mgr.RegisterServer(ctx, endpoint, true, mcpmanager.Source{Kind: "direct"}, oauthCfg); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("manifest entry %q: %w", entry.ID, err)
		}
	}
	return mgr, cleanup, nil
}
