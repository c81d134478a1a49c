package transport

import (
	"context"
	"fmt"
	"sync"

	mcpclientpkg "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Client is the uniform surface the connection engine drives regardless of
// which concrete transport backs it: subprocess stdio, streamable-HTTP, or
// SSE. Initialize performs the MCP handshake; the remaining methods are the
// MCP operations the connection engine issues during tool discovery, tool
// calls, and resource access.
type Client interface {
	Initialize(ctx context.Context) error
	Close() error
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, cursor string) ([]mcp.Resource, string, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	SubscribeResource(ctx context.Context, uri string) error
	UnsubscribeResource(ctx context.Context, uri string) error
	OnNotification(handler func(mcp.JSONRPCNotification))
}

// baseClient factors out the operations identical across every transport
// kind once an underlying mcp-go client.MCPClient is established.
type baseClient struct {
	mu        sync.RWMutex
	inner     mcpclientpkg.MCPClient
	connected bool
}

// Initialize is a no-op on baseClient: each dial function performs the MCP
// handshake on the underlying client before wrapping it, so by the time a
// baseClient is returned to the caller it is already initialized.
func (b *baseClient) Initialize(ctx context.Context) error {
	return nil
}

func (b *baseClient) checkConnected() error {
	if !b.connected || b.inner == nil {
		return fmt.Errorf("transport: not connected")
	}
	return nil
}

func (b *baseClient) setConnected(inner mcpclientpkg.MCPClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inner = inner
	b.connected = true
}

func (b *baseClient) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected || b.inner == nil {
		return nil
	}
	err := b.inner.Close()
	b.connected = false
	b.inner = nil
	return err
}

func (b *baseClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	result, err := b.inner.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return result.Tools, nil
}

func (b *baseClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	result, err := b.inner.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	return result, nil
}

func (b *baseClient) ListResources(ctx context.Context, cursor string) ([]mcp.Resource, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnected(); err != nil {
		return nil, "", err
	}
	req := mcp.ListResourcesRequest{}
	req.Params.Cursor = mcp.Cursor(cursor)
	result, err := b.inner.ListResources(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("list resources: %w", err)
	}
	return result.Resources, string(result.NextCursor), nil
}

func (b *baseClient) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	result, err := b.inner.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", uri, err)
	}
	return result, nil
}

func (b *baseClient) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	result, err := b.inner.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list resource templates: %w", err)
	}
	return result.ResourceTemplates, nil
}

func (b *baseClient) SubscribeResource(ctx context.Context, uri string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnected(); err != nil {
		return err
	}
	req := mcp.SubscribeRequest{}
	req.Params.URI = uri
	return b.inner.Subscribe(ctx, req)
}

func (b *baseClient) UnsubscribeResource(ctx context.Context, uri string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkConnected(); err != nil {
		return err
	}
	req := mcp.UnsubscribeRequest{}
	req.Params.URI = uri
	return b.inner.Unsubscribe(ctx, req)
}

func (b *baseClient) OnNotification(handler func(mcp.JSONRPCNotification)) {
	b.mu.RLock()
	inner := b.inner
	b.mu.RUnlock()
	if inner != nil {
		inner.OnNotification(handler)
	}
}

func initializeParams() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo:      mcp.Implementation{Name: "zypher-mcp", Version: "0.1.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
}
