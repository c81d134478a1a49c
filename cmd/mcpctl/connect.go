package main

import (
	"context"
	"fmt"

	"zypher/internal/mcpclient"
	"zypher/internal/mcpmanager"
	"zypher/internal/zlog"
)

// watchAuth starts the manager's OAuth storage watcher so a sibling mcpctl
// invocation completing the browser flow can unstick a server this process
// left in error. A second call for the same manager is a logged no-op.
func watchAuth(mgr *mcpmanager.Manager, cfg *mcpclient.OAuthConfig) {
	if cfg == nil {
		return
	}
	if err := mgr.WatchOAuthStorage(cfg.Storage); err != nil {
		zlog.Debug("mcpctl", "oauth storage watch not started: %v", err)
	}
}

// connectEphemeral builds a fresh Manager, registers a single server from
// the shared --command/--url flags, and awaits connected.toolDiscovered.
// Every mcpctl subcommand that talks to a live server is a one-shot
// process, so there is no cross-invocation manager state to reuse; only
// the OAuth artifacts under mcpauth.Storage persist across runs.
func connectEphemeral(ctx context.Context, id string) (*mcpmanager.Manager, *mcpclient.Client, error) {
	endpoint, err := buildEndpoint(id)
	if err != nil {
		return nil, nil, err
	}

	oauthCfg, err := oauthClientConfig(endpoint)
	if err != nil {
		return nil, nil, err
	}

	mgr := mcpmanager.New()
	watchAuth(mgr, oauthCfg)
	if err := mgr.RegisterServer(ctx, endpoint, true, mcpmanager.Source{Kind: "direct"}, oauthCfg); err != nil {
		_ = mgr.Dispose(ctx)
		return nil, nil, fmt.Errorf("register %q: %w", id, err)
	}

	info, ok := mgr.Servers()[id]
	if !ok {
		_ = mgr.Dispose(ctx)
		return nil, nil, fmt.Errorf("server %q not found after registration", id)
	}
	return mgr, info.Client, nil
}
