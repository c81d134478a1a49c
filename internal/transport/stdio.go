package transport

import (
	"context"
	"fmt"
	"time"

	"zypher/internal/zconfig"
	"zypher/internal/zlog"

	"github.com/mark3labs/mcp-go/client"
)

// DefaultInitTimeout bounds how long a connect attempt may take when the
// caller's context carries no deadline of its own.
const DefaultInitTimeout = 10 * time.Second

// dialStdio spawns endpoint.Command as a subprocess and speaks MCP over its
// stdin/stdout: NewStdioMCPClient starts the process, then Initialize
// performs the MCP handshake. PATH, HOME, SHELL, TERM and LANG are forwarded
// from the hosting process unless the endpoint overrides them.
func dialStdio(ctx context.Context, ep CommandEndpoint) (Client, error) {
	env := zconfig.ForwardedEnv()
	for k, v := range ep.Env {
		env[k] = v
	}
	envStrings := make([]string, 0, len(env))
	for k, v := range env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	zlog.Debug("transport.stdio", "spawning %s %v", ep.Command, ep.Args)
	inner, err := client.NewStdioMCPClient(ep.Command, envStrings, ep.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawn stdio transport: %w", err)
	}

	initCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		initCtx, cancel = context.WithTimeout(ctx, DefaultInitTimeout)
		defer cancel()
	}

	if _, err := inner.Initialize(initCtx, initializeParams()); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("mcp handshake over stdio: %w", err)
	}

	b := &baseClient{}
	b.setConnected(inner)
	return b, nil
}
