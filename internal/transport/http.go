package transport

import (
	"context"
	"fmt"

	"zypher/internal/zlog"

	"github.com/mark3labs/mcp-go/client"
	gotransport "github.com/mark3labs/mcp-go/client/transport"
)

// TokenSource supplies the current bearer token for a remote endpoint on
// every outbound request. Returning "" omits the Authorization header
// (used before any OAuth exchange has completed).
type TokenSource func(ctx context.Context) string

func headerFuncFor(headers map[string]string, tokens TokenSource) gotransport.HTTPHeaderFunc {
	return func(ctx context.Context) map[string]string {
		merged := make(map[string]string, len(headers)+1)
		for k, v := range headers {
			merged[k] = v
		}
		if tokens != nil {
			if tok := tokens(ctx); tok != "" {
				merged["Authorization"] = "Bearer " + tok
			}
		}
		return merged
	}
}

// dialStreamableHTTP attempts the streamable-HTTP transport variant.
// Headers (static and the dynamic bearer token) are injected on every
// request via WithHTTPHeaderFunc so a mid-session token refresh needs no
// client recreation.
func dialStreamableHTTP(ctx context.Context, ep RemoteEndpoint, tokens TokenSource) (Client, error) {
	opts := []gotransport.StreamableHTTPCOption{
		gotransport.WithHTTPHeaderFunc(headerFuncFor(ep.Headers, tokens)),
	}

	zlog.Debug("transport.http", "dialing streamable-http %s", ep.URL)
	inner, err := client.NewStreamableHttpClient(ep.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create streamable-http transport: %w", err)
	}

	initCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		initCtx, cancel = context.WithTimeout(ctx, DefaultInitTimeout)
		defer cancel()
	}

	if _, err := inner.Initialize(initCtx, initializeParams()); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("mcp handshake over streamable-http: %w", err)
	}

	b := &baseClient{}
	b.setConnected(inner)
	return b, nil
}
