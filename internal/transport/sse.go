package transport

import (
	"context"
	"fmt"

	"zypher/internal/zlog"

	"github.com/mark3labs/mcp-go/client"
	gotransport "github.com/mark3labs/mcp-go/client/transport"
)

// dialSSE attempts the legacy SSE transport variant, used as the automatic
// fallback when streamable-HTTP returns a non-401 4xx.
func dialSSE(ctx context.Context, ep RemoteEndpoint, tokens TokenSource) (Client, error) {
	headers := make(map[string]string, len(ep.Headers)+1)
	for k, v := range ep.Headers {
		headers[k] = v
	}
	if tokens != nil {
		if tok := tokens(ctx); tok != "" {
			headers["Authorization"] = "Bearer " + tok
		}
	}

	opts := []gotransport.ClientOption{gotransport.WithHeaders(headers)}

	zlog.Debug("transport.sse", "dialing sse %s", ep.URL)
	inner, err := client.NewSSEMCPClient(ep.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sse transport: %w", err)
	}

	initCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		initCtx, cancel = context.WithTimeout(ctx, DefaultInitTimeout)
		defer cancel()
	}

	// The SSE transport must open its event stream before the handshake.
	if err := inner.Start(initCtx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("start sse transport: %w", err)
	}

	if _, err := inner.Initialize(initCtx, initializeParams()); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("mcp handshake over sse: %w", err)
	}

	b := &baseClient{}
	b.setConnected(inner)
	return b, nil
}
