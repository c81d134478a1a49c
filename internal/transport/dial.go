package transport

import (
	"context"
	"fmt"

	"zypher/internal/zerr"
	"zypher/internal/zlog"
	"zypher/pkg/mcpauth"
)

// Dial connects to endpoint and performs the MCP handshake, returning a
// ready-to-use Client. Command endpoints spawn a subprocess over stdio;
// remote endpoints try
// streamable-HTTP first and fall back to SSE on any 4xx status other than
// 401. tokens supplies the current bearer token for remote endpoints (nil
// for an endpoint with no OAuth provider attached, or before the first
// successful exchange).
//
// Errors are one of the kinds zerr defines: ValidationError if ep has
// neither a command nor a remote configured, CancellationError if ctx was
// cancelled or its deadline passed, UnauthorizedError on a 401 that the
// caller should resolve via the OAuth challenge/retry loop, or FatalError
// for anything else (including an exhausted streamable-HTTP/SSE fallback).
func Dial(ctx context.Context, ep Endpoint, tokens TokenSource) (Client, error) {
	if ep.Command != nil {
		c, err := dialStdio(ctx, *ep.Command)
		if err != nil {
			return nil, wrapConnectErr(ctx, err)
		}
		return c, nil
	}
	if ep.Remote == nil {
		return nil, &zerr.ValidationError{Reason: fmt.Sprintf("endpoint %q has neither command nor remote configured", ep.ID)}
	}

	c, err := dialStreamableHTTP(ctx, *ep.Remote, tokens)
	if err == nil {
		return c, nil
	}
	if ctx.Err() != nil {
		return nil, wrapConnectErr(ctx, err)
	}
	if mcpauth.IsUnauthorizedError(err) {
		return nil, &zerr.UnauthorizedError{URL: ep.Remote.URL, Detail: err.Error()}
	}

	status := mcpauth.StatusFromError(err)
	if status < 400 || status >= 500 {
		return nil, &zerr.FatalError{Cause: err}
	}

	zlog.Info("transport.dial", "streamable-http for %s returned %d, falling back to sse", ep.ID, status)
	sc, sseErr := dialSSE(ctx, *ep.Remote, tokens)
	if sseErr == nil {
		return sc, nil
	}
	if ctx.Err() != nil {
		return nil, wrapConnectErr(ctx, sseErr)
	}
	if mcpauth.IsUnauthorizedError(sseErr) {
		return nil, &zerr.UnauthorizedError{URL: ep.Remote.URL, Detail: sseErr.Error()}
	}
	return nil, &zerr.FatalError{Cause: fmt.Errorf("streamable-http failed (%w); sse fallback also failed: %v", err, sseErr)}
}

func wrapConnectErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &zerr.CancellationError{Reason: "connect cancelled"}
	}
	return &zerr.FatalError{Cause: err}
}
