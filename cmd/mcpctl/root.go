package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"zypher/internal/mcpclient"
	"zypher/internal/transport"
	"zypher/internal/zconfig"
	"zypher/internal/zlog"
	"zypher/pkg/mcpauth"
)

var rootCmd = &cobra.Command{
	Use:          "mcpctl",
	Short:        "Debug harness over the embedded MCP client runtime",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		zlog.Init(level, os.Stderr)
	},
}

// Shared endpoint/OAuth flags, reused by register, list-servers, list-tools, and call
// since each invocation builds its own ephemeral manager (this CLI holds no
// state across processes beyond what mcpauth.Storage persists to disk).
var (
	flagCommand  string
	flagArgs     []string
	flagEnv      []string
	flagURL      string
	flagHeader   []string
	flagRedirect string
	flagVerbose  bool
)

func init() {
	for _, cmd := range []*cobra.Command{registerCmd, listServersCmd, listToolsCmd, callCmd} {
		cmd.Flags().StringVar(&flagCommand, "command", "", "subprocess command to launch (stdio transport)")
		cmd.Flags().StringSliceVar(&flagArgs, "args", nil, "comma-separated subprocess arguments")
		cmd.Flags().StringSliceVar(&flagEnv, "env", nil, "repeatable KEY=VALUE subprocess environment overrides")
		cmd.Flags().StringVar(&flagURL, "url", "", "remote server URL (HTTP transport)")
		cmd.Flags().StringSliceVar(&flagHeader, "header", nil, "repeatable Name: Value HTTP header")
		cmd.Flags().StringVar(&flagRedirect, "oauth-redirect-url", "http://localhost:8765/callback", "OAuth callback URL advertised to the authorization server")
	}
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")
	rootCmd.AddCommand(registerCmd, registerRegistryCmd, listServersCmd, listToolsCmd, callCmd, logoutCmd)
}

// buildEndpoint translates the shared --command/--url flag set into a
// transport.Endpoint, following the same "exactly one variant populated"
// invariant ServerEndpoint enforces.
func buildEndpoint(id string) (transport.Endpoint, error) {
	switch {
	case flagCommand != "" && flagURL != "":
		return transport.Endpoint{}, fmt.Errorf("specify either --command or --url, not both")
	case flagCommand != "":
		env := make(map[string]string, len(flagEnv))
		for _, kv := range flagEnv {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return transport.Endpoint{}, fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
			}
			env[name] = value
		}
		return transport.Endpoint{
			ID:      id,
			Command: &transport.CommandEndpoint{Command: flagCommand, Args: flagArgs, Env: env},
		}, nil
	case flagURL != "":
		headers := make(map[string]string, len(flagHeader))
		for _, kv := range flagHeader {
			name, value, ok := strings.Cut(kv, ":")
			if !ok {
				return transport.Endpoint{}, fmt.Errorf("invalid --header %q, expected Name: Value", kv)
			}
			headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
		return transport.Endpoint{
			ID:     id,
			Remote: &transport.RemoteEndpoint{URL: flagURL, Headers: headers},
		}, nil
	default:
		return transport.Endpoint{}, fmt.Errorf("one of --command or --url is required")
	}
}

// oauthConfigFor attaches a persistent Provider to remote endpoints so a
// register/call invocation can complete an authorization-code+PKCE flow
// started by an earlier invocation (tokens persist across processes even
// though server registration does not).
func oauthConfigFor(endpoint transport.Endpoint) (*mcpauthConfig, error) {
	if !endpoint.IsRemote() {
		return nil, nil
	}
	cfg, err := zconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	storage, err := mcpauth.NewStorage(cfg.RemoteConfigDir)
	if err != nil {
		return nil, fmt.Errorf("open oauth storage: %w", err)
	}
	return &mcpauthConfig{storage: storage, redirectURL: flagRedirect}, nil
}

type mcpauthConfig struct {
	storage     *mcpauth.Storage
	redirectURL string
}

// oauthClientConfig is the mcpclient.OAuthConfig-typed wrapper around
// oauthConfigFor, shared by every subcommand that registers a server.
func oauthClientConfig(endpoint transport.Endpoint) (*mcpclient.OAuthConfig, error) {
	ac, err := oauthConfigFor(endpoint)
	if err != nil {
		return nil, err
	}
	if ac == nil {
		return nil, nil
	}
	return &mcpclient.OAuthConfig{RedirectURL: ac.redirectURL, Storage: ac.storage}, nil
}
