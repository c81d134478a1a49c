// Package mcpmanager implements the server manager: it owns a collection of
// mcpclient.Client instances keyed by server id, exposes a merged tool
// registry with built-in-shadows-MCP precedence, and multiplexes every
// client's status stream plus its own lifecycle events into a single
// broadcast observable.
package mcpmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"zypher/internal/broadcast"
	"zypher/internal/mcpclient"
	"zypher/internal/registry"
	"zypher/internal/transport"
	"zypher/internal/zerr"
	"zypher/internal/zlog"
	"zypher/pkg/mcpauth"
)

// EventKind discriminates the entries on the manager's events$ stream.
type EventKind string

const (
	EventServerAdded         EventKind = "serverAdded"
	EventServerUpdated       EventKind = "serverUpdated"
	EventServerRemoved       EventKind = "serverRemoved"
	EventClientStatusChanged EventKind = "clientStatusChanged"
)

// Event is a single entry on the manager's multiplexed events$ stream.
type Event struct {
	Kind     EventKind
	ServerID string
	Status   mcpclient.StatusChange // populated for EventClientStatusChanged
}

// Source records how a server was registered, matching the ServerSource
// data model entry: either direct or registry-provenance.
type Source struct {
	Kind              string // "direct" or "registry"
	PackageIdentifier string
}

// serverEntry is the manager's private bookkeeping for one registered
// server: its endpoint, provenance, live client, and the cancel func for
// the manager's subscription to the client's status$ stream.
type serverEntry struct {
	endpoint transport.Endpoint
	source   Source
	client   *mcpclient.Client
	unsub    func()
}

// RegistryFetcher is the slice of the registry adapter the manager needs for
// RegisterServerFromRegistry.
type RegistryFetcher interface {
	FetchWithDefaultTimeout(ctx context.Context, pkg string) (registry.ServerDetail, error)
}

// Manager owns a set of mcpclient.Client instances and the merged tool
// registry built from them plus any locally registered built-ins.
type Manager struct {
	mu        sync.RWMutex
	servers   map[string]*serverEntry
	builtins  map[string]mcpclient.Tool
	hub       *broadcast.Hub[Event]
	store     RegistryFetcher
	watcher   *mcpauth.Watcher
	disposed  bool
	newClient func(mcpclient.Options) (*mcpclient.Client, error)
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		servers:   make(map[string]*serverEntry),
		builtins:  make(map[string]mcpclient.Tool),
		hub:       broadcast.NewHub[Event](),
		newClient: mcpclient.NewClient,
	}
}

// SetRegistry attaches the MCP-store adapter used to resolve package
// identifiers in RegisterServerFromRegistry.
func (m *Manager) SetRegistry(store RegistryFetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

// Events returns the manager's multiplexed events$ stream.
func (m *Manager) Events() (<-chan Event, func()) {
	return m.hub.Subscribe()
}

// WatchOAuthStorage watches storage's directory so this manager notices a
// sibling process persisting fresh tokens (e.g. a second CLI invocation
// completing the browser redirect): a registered remote server sitting in
// error whose URL hash matches the written tokens is retried with the new
// credentials. The watcher is closed by Dispose.
func (m *Manager) WatchOAuthStorage(storage *mcpauth.Storage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return &zerr.ValidationError{Reason: "manager disposed"}
	}
	if m.watcher != nil {
		return &zerr.ValidationError{Reason: "oauth storage watcher already running"}
	}
	watcher, err := mcpauth.WatchStorage(storage, m.onExternalTokenWrite)
	if err != nil {
		return err
	}
	m.watcher = watcher
	return nil
}

// onExternalTokenWrite reacts to tokens landing on disk for hash: remote
// servers with that URL hash that failed their last connect are retried.
func (m *Manager) onExternalTokenWrite(hash string) {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		if entry.endpoint.Remote == nil || mcpauth.ServerHash(entry.endpoint.Remote.URL) != hash {
			continue
		}
		zlog.Info("mcpmanager", "external token write for server %s", entry.endpoint.ID)
		if entry.client.Status() == mcpclient.StatusError {
			if err := entry.client.Retry(); err != nil {
				zlog.Warn("mcpmanager", "retry after external token write for %s: %v", entry.endpoint.ID, err)
			}
		}
	}
}

// RegisterServer validates endpoint.ID, creates a client for it, subscribes
// to its status stream (re-emitted as clientStatusChanged), and, if enabled,
// awaits connected.toolDiscovered before returning.
func (m *Manager) RegisterServer(ctx context.Context, endpoint transport.Endpoint, enabled bool, source Source, oauth *mcpclient.OAuthConfig) error {
	if !transport.ValidServerID(endpoint.ID) {
		return &zerr.ValidationError{Reason: fmt.Sprintf("invalid server id %q", endpoint.ID)}
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return &zerr.ValidationError{Reason: "manager disposed"}
	}
	if _, exists := m.servers[endpoint.ID]; exists {
		m.mu.Unlock()
		return &zerr.ValidationError{Reason: fmt.Sprintf("server %q already exists", endpoint.ID)}
	}
	m.mu.Unlock()

	client, err := m.newClient(mcpclient.Options{ServerID: endpoint.ID, Endpoint: endpoint, OAuth: oauth})
	if err != nil {
		return err
	}

	statusCh, unsub := client.Subscribe()
	go m.pumpStatus(endpoint.ID, statusCh)

	entry := &serverEntry{endpoint: endpoint, source: source, client: client, unsub: unsub}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		unsub()
		_ = client.Dispose(context.Background())
		return &zerr.ValidationError{Reason: "manager disposed"}
	}
	if _, exists := m.servers[endpoint.ID]; exists {
		m.mu.Unlock()
		unsub()
		_ = client.Dispose(context.Background())
		return &zerr.ValidationError{Reason: fmt.Sprintf("server %q already exists", endpoint.ID)}
	}
	m.servers[endpoint.ID] = entry
	m.mu.Unlock()

	m.hub.Publish(Event{Kind: EventServerAdded, ServerID: endpoint.ID})

	client.SetDesiredEnabled(enabled)
	if enabled {
		if err := client.WaitForConnection(ctx, 0); err != nil {
			zlog.Warn("mcpmanager", "server %s did not reach toolDiscovered during registration: %v", endpoint.ID, err)
		}
	}
	return nil
}

// RegisterServerFromRegistry resolves pkg ("@scope/name") through the MCP
// store, converts the descriptor to an endpoint, and registers it with
// registry provenance.
func (m *Manager) RegisterServerFromRegistry(ctx context.Context, pkg string, enabled bool, oauth *mcpclient.OAuthConfig) error {
	if err := registry.ValidatePackageIdentifier(pkg); err != nil {
		return err
	}

	m.mu.RLock()
	store := m.store
	disposed := m.disposed
	m.mu.RUnlock()
	if disposed {
		return &zerr.ValidationError{Reason: "manager disposed"}
	}
	if store == nil {
		return &zerr.ValidationError{Reason: "no registry client configured"}
	}

	detail, err := store.FetchWithDefaultTimeout(ctx, pkg)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", pkg, err)
	}
	endpoint, err := detail.ToEndpoint(registry.ServerIDForPackage(pkg))
	if err != nil {
		return err
	}
	return m.RegisterServer(ctx, endpoint, enabled, Source{Kind: "registry", PackageIdentifier: pkg}, oauth)
}

// pumpStatus forwards a client's status$ stream onto the manager's events$
// as clientStatusChanged entries, until the client's stream completes.
func (m *Manager) pumpStatus(serverID string, ch <-chan mcpclient.StatusChange) {
	for change := range ch {
		m.hub.Publish(Event{Kind: EventClientStatusChanged, ServerID: serverID, Status: change})
	}
}

// DeregisterServer disposes the named client (awaiting its terminal state),
// unsubscribes, removes the server, and emits serverRemoved.
func (m *Manager) DeregisterServer(ctx context.Context, id string) error {
	m.mu.Lock()
	entry, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return &zerr.ValidationError{Reason: fmt.Sprintf("unknown server %q", id)}
	}
	delete(m.servers, id)
	m.mu.Unlock()

	entry.unsub()
	if err := entry.client.Dispose(ctx); err != nil {
		return err
	}

	m.hub.Publish(Event{Kind: EventServerRemoved, ServerID: id})
	return nil
}

// UpdateServerOptions selects what updateServer changes.
type UpdateServerOptions struct {
	Endpoint *transport.Endpoint
	Enabled  *bool
	OAuth    *mcpclient.OAuthConfig
}

// UpdateServer applies opts to server id. A changed endpoint is applied by
// strict deregister-then-register: the old client must reach disposed
// before the replacement is created.
func (m *Manager) UpdateServer(ctx context.Context, id string, opts UpdateServerOptions) error {
	m.mu.RLock()
	entry, ok := m.servers[id]
	m.mu.RUnlock()
	if !ok {
		return &zerr.ValidationError{Reason: fmt.Sprintf("unknown server %q", id)}
	}

	if opts.Endpoint != nil {
		enabled := entry.client.DesiredEnabled()
		if opts.Enabled != nil {
			enabled = *opts.Enabled
		}
		source := entry.source
		if err := m.DeregisterServer(ctx, id); err != nil {
			return err
		}
		return m.RegisterServer(ctx, *opts.Endpoint, enabled, source, opts.OAuth)
	}

	if opts.Enabled != nil {
		entry.client.SetDesiredEnabled(*opts.Enabled)
	}
	m.hub.Publish(Event{Kind: EventServerUpdated, ServerID: id})
	return nil
}

// RegisterTool adds a built-in, non-MCP tool to the local toolbox.
func (m *Manager) RegisterTool(tool mcpclient.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return &zerr.ValidationError{Reason: "manager disposed"}
	}
	if _, exists := m.builtins[tool.Name]; exists {
		return &zerr.ValidationError{Reason: fmt.Sprintf("tool %q already registered", tool.Name)}
	}
	m.builtins[tool.Name] = tool
	return nil
}

// Tools returns the merged tool map: built-in tools shadow MCP tools with
// the same name, and only tools from servers whose desiredEnabled is true
// are included.
func (m *Manager) Tools() map[string]mcpclient.Tool {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	builtins := make(map[string]mcpclient.Tool, len(m.builtins))
	for k, v := range m.builtins {
		builtins[k] = v
	}
	m.mu.RUnlock()

	merged := make(map[string]mcpclient.Tool)
	for _, entry := range entries {
		if !entry.client.DesiredEnabled() {
			continue
		}
		for name, tool := range entry.client.Tools() {
			merged[name] = tool
		}
	}
	for name, tool := range builtins {
		merged[name] = tool // built-ins shadow MCP tools of the same name
	}
	return merged
}

// GetTool returns a single tool by qualified name, honoring the same
// built-in-shadows-MCP precedence as Tools.
func (m *Manager) GetTool(name string) (mcpclient.Tool, bool) {
	m.mu.RLock()
	if tool, ok := m.builtins[name]; ok {
		m.mu.RUnlock()
		return tool, true
	}
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, entry := range entries {
		if !entry.client.DesiredEnabled() {
			continue
		}
		if tool, ok := entry.client.GetTool(name); ok {
			return tool, true
		}
	}
	return mcpclient.Tool{}, false
}

// ServerInfo is a deep-copy-safe snapshot of a registered server.
type ServerInfo struct {
	Endpoint transport.Endpoint
	Source   Source
	Client   *mcpclient.Client
}

// Servers returns a snapshot of every registered server's endpoint, source,
// and live client handle.
func (m *Manager) Servers() map[string]ServerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServerInfo, len(m.servers))
	for id, entry := range m.servers {
		out[id] = ServerInfo{Endpoint: entry.endpoint.Clone(), Source: entry.source, Client: entry.client}
	}
	return out
}

// Dispose is idempotent: it marks the manager disposed (further mutating
// calls fail with "manager disposed"), disposes every client concurrently,
// clears the toolbox, and completes events$.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.servers = make(map[string]*serverEntry)
	m.builtins = make(map[string]mcpclient.Tool)
	watcher := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			zlog.Warn("mcpmanager", "error closing oauth storage watcher: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, entry := range entries {
		entry := entry
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry.unsub()
			if err := entry.client.Dispose(ctx); err != nil {
				zlog.Warn("mcpmanager", "error disposing client during manager shutdown: %v", err)
			}
			m.hub.Publish(Event{Kind: EventServerRemoved, ServerID: entry.endpoint.ID})
		}()
	}
	wg.Wait()

	m.hub.Close()
	return nil
}

// Per-attempt deadlines for the cross-server resource race; binary reads
// get the longer budget.
const (
	crossServerReadTimeout       = 5 * time.Second
	crossServerBinaryReadTimeout = 10 * time.Second
)

// connectedClients snapshots every client currently in a connected state.
func (m *Manager) connectedClients() []*mcpclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := make([]*mcpclient.Client, 0, len(m.servers))
	for _, entry := range m.servers {
		if entry.client.Status().IsConnected() {
			clients = append(clients, entry.client)
		}
	}
	return clients
}

// raceRead runs read against every client concurrently and returns the first
// success; the remaining attempts are cancelled, and their errors are kept
// only as the fallback result when every attempt fails.
func raceRead[T any](ctx context.Context, clients []*mcpclient.Client, uri string, timeout time.Duration, read func(context.Context, *mcpclient.Client) (T, error)) (T, error) {
	var zero T
	if len(clients) == 0 {
		return zero, &zerr.ResourceError{Code: zerr.CodeResourceNotFound, Reason: fmt.Sprintf("resource %q not found: no connected servers", uri)}
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type attempt struct {
		result T
		err    error
	}
	results := make(chan attempt, len(clients))
	for _, client := range clients {
		client := client
		go func() {
			attemptCtx, attemptCancel := context.WithTimeout(raceCtx, timeout)
			defer attemptCancel()
			result, err := read(attemptCtx, client)
			results <- attempt{result: result, err: err}
		}()
	}

	var lastErr error
	for range clients {
		select {
		case r := <-results:
			if r.err == nil {
				cancel()
				return r.result, nil
			}
			lastErr = r.err
		case <-ctx.Done():
			return zero, &zerr.CancellationError{Reason: "cross-server read cancelled"}
		}
	}
	return zero, lastErr
}

// ReadResourceAnyServer races a read of uri against every connected server
// with a 5-second per-attempt timeout; the first success wins and the other
// attempts are aborted.
func (m *Manager) ReadResourceAnyServer(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return raceRead(ctx, m.connectedClients(), uri, crossServerReadTimeout,
		func(ctx context.Context, c *mcpclient.Client) (*mcp.ReadResourceResult, error) {
			return c.ReadResource(ctx, mcpclient.ReadResourceOptions{URI: uri, UseCache: true})
		})
}

// ReadBinaryResourceAnyServer is ReadResourceAnyServer for blob contents,
// with the longer 10-second per-attempt timeout.
func (m *Manager) ReadBinaryResourceAnyServer(ctx context.Context, uri string) (*mcpclient.BinaryResource, error) {
	return raceRead(ctx, m.connectedClients(), uri, crossServerBinaryReadTimeout,
		func(ctx context.Context, c *mcpclient.Client) (*mcpclient.BinaryResource, error) {
			return c.ReadBinaryResource(ctx, mcpclient.ReadResourceOptions{URI: uri, UseCache: true})
		})
}
