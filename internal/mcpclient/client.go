package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"zypher/internal/broadcast"
	"zypher/internal/transport"
	"zypher/internal/zerr"
	"zypher/internal/zlog"
	"zypher/pkg/mcpauth"
)

// DefaultWaitForConnectionTimeout bounds WaitForConnection when the caller
// does not supply its own deadline.
const DefaultWaitForConnectionTimeout = 10 * time.Second

// DefaultDisposeTimeout bounds how long Dispose waits for an in-flight
// connect or teardown to settle. When it elapses Dispose returns a
// CancellationError; the client's status is left as it is.
const DefaultDisposeTimeout = 30 * time.Second

// OAuthConfig supplies the ingredients for the per-server auth provider the
// client constructs internally, so its redirect hook can be wired straight
// back into the state machine (see onRedirectToAuthorization). Callback, if
// set, receives the authorization code once the user completes the flow.
type OAuthConfig struct {
	RedirectURL string
	Storage     *mcpauth.Storage
	HTTPClient  *http.Client
	Callback    CallbackHandler
}

// Options configures a new Client.
type Options struct {
	ServerID string
	Endpoint transport.Endpoint
	OAuth    *OAuthConfig
	Callback CallbackHandler
}

// Client is the connection engine for a single configured MCP server: it
// reconciles a caller-settable DesiredState against an observable Status,
// drives the transport dial/OAuth/tool-discovery sequence, and serves tool
// calls and resource access once connected.
//
// All state transitions run on a single internal actor goroutine (run), so
// the invariant "no two connect tasks are ever in flight for the same
// client" holds by construction rather than by locking discipline.
type Client struct {
	serverID string
	endpoint transport.Endpoint
	callback CallbackHandler

	authProvider *mcpauth.Provider
	discoverer   *mcpauth.Discoverer

	hub       *broadcast.Hub[StatusChange]
	resources *resourceCache

	actions chan func()

	mu              sync.RWMutex
	status          Status
	desired         DesiredState
	pendingOAuthURL string
	lastErr         error
	tools           map[string]Tool
	transportClient transport.Client
	resourceSubs    map[string]func(string)
	listChangedSubs []func()

	cancelConnect  context.CancelFunc
	disposePending bool
	disposeDone    chan struct{}
}

// NewClient constructs a Client for endpoint and starts its actor goroutine.
// The client begins in status disconnected with desired disconnected;
// callers must call SetDesiredEnabled(true) to begin connecting.
func NewClient(opts Options) (*Client, error) {
	if !transport.ValidServerID(opts.ServerID) {
		return nil, &zerr.ValidationError{Reason: fmt.Sprintf("invalid server id %q", opts.ServerID)}
	}
	callback := opts.Callback
	if callback == nil && opts.OAuth != nil {
		callback = opts.OAuth.Callback
	}
	if callback == nil {
		callback = NoCallbackHandler{}
	}

	c := &Client{
		serverID:     opts.ServerID,
		endpoint:     opts.Endpoint,
		callback:     callback,
		hub:          broadcast.NewHub[StatusChange](),
		resources:    newResourceCache(),
		actions:      make(chan func(), 32),
		status:       StatusDisconnected,
		desired:      DesiredDisconnected,
		tools:        make(map[string]Tool),
		resourceSubs: make(map[string]func(string)),
		disposeDone:  make(chan struct{}),
	}

	if opts.Endpoint.IsRemote() && opts.OAuth != nil {
		provider, err := mcpauth.NewProvider(mcpauth.Options{
			ServerURL:   opts.Endpoint.Remote.URL,
			RedirectURL: opts.OAuth.RedirectURL,
			Storage:     opts.OAuth.Storage,
			HTTPClient:  opts.OAuth.HTTPClient,
			Redirect:    c.onRedirectToAuthorization,
		})
		if err != nil {
			return nil, err
		}
		c.authProvider = provider
		c.discoverer = mcpauth.NewDiscoverer(opts.OAuth.HTTPClient)
	}

	go c.run()
	return c, nil
}

// ServerID returns the id this client was constructed with.
func (c *Client) ServerID() string { return c.serverID }

// run is the actor loop: every state mutation in this package happens as a
// func sent through c.actions, so they execute one at a time in call order.
func (c *Client) run() {
	for fn := range c.actions {
		fn()
	}
}

// post enqueues fn to run on the actor goroutine without waiting for it.
func (c *Client) post(fn func()) {
	defer func() { recover() }() // swallow send-on-closed-channel from a racing late event after dispose
	c.actions <- fn
}

// postSync enqueues fn and blocks until it has run, used by the OAuth
// redirect hook which must observe the status transition it causes before
// it can safely hand control to the (synchronous) callback wait.
func (c *Client) postSync(fn func()) {
	done := make(chan struct{})
	c.post(func() {
		fn()
		close(done)
	})
	<-done
}

// Status returns the current observable status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// PendingOAuthURL returns the authorization URL awaiting user action, or ""
// outside the connecting.awaitingOAuth state.
func (c *Client) PendingOAuthURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingOAuthURL
}

// LastError returns the error that produced the current error status, or
// nil outside that state.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Subscribe returns the status$ stream: every transition from here on, with
// no replay of history. The returned cancel func unsubscribes.
func (c *Client) Subscribe() (<-chan StatusChange, func()) {
	return c.hub.Subscribe()
}

// Tools returns a snapshot of the currently discovered tools, keyed by
// their "<serverId>_<name>" qualified name.
func (c *Client) Tools() map[string]Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Tool, len(c.tools))
	for k, v := range c.tools {
		out[k] = v
	}
	return out
}

// GetTool returns a single tool by qualified name.
func (c *Client) GetTool(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// ExecuteToolCall runs a previously discovered tool. Each Tool's Execute
// closure is bound to the transport.Client live at discovery time, so this
// never needs to touch the actor: a stale tool (from a connection that has
// since torn down) simply will not be present in the current snapshot.
func (c *Client) ExecuteToolCall(ctx context.Context, name string, input map[string]any) (ToolResult, error) {
	tool, ok := c.GetTool(name)
	if !ok {
		return ToolResult{}, &zerr.ValidationError{Reason: fmt.Sprintf("unknown tool %q", name)}
	}
	return tool.Execute(ctx, input)
}

// currentTransport returns the live transport client, or a ValidationError
// if the client is not currently in a connected state.
func (c *Client) currentTransport() (transport.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.transportClient == nil {
		return nil, &zerr.ValidationError{Reason: fmt.Sprintf("server %q is not connected", c.serverID)}
	}
	return c.transportClient, nil
}

// setStatus updates status under the state lock and publishes the change.
// Must be called from the actor goroutine.
func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	if s != StatusConnectingAwaitingOAuth {
		c.pendingOAuthURL = ""
	}
	// lastErr survives the disconnectingDueToError passage so the terminal
	// error state still carries it.
	if s != StatusError && s != StatusDisconnectingDueToError {
		c.lastErr = nil
	}
	change := StatusChange{Status: s, PendingOAuthURL: c.pendingOAuthURL, LastError: c.lastErr}
	c.mu.Unlock()

	zlog.Info("mcpclient", "server %s -> %s", c.serverID, s)
	c.hub.Publish(change)
}

// setError records err as lastError and transitions to error. Must be
// called from the actor goroutine.
func (c *Client) setError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setStatus(StatusError)
}

// DesiredEnabled reports whether the caller's current desired state is
// connected.
func (c *Client) DesiredEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desired == DesiredConnected
}

// SetDesiredEnabled toggles the caller's desired state between connected and
// disconnected; the actor reconciles the observable status asynchronously.
func (c *Client) SetDesiredEnabled(enabled bool) {
	target := DesiredDisconnected
	if enabled {
		target = DesiredConnected
	}
	c.post(func() { c.handleSetDesired(target) })
}

// Retry re-attempts a connection from the error state; from any other
// state it returns a ValidationError and changes nothing.
func (c *Client) Retry() error {
	errCh := make(chan error, 1)
	c.post(func() {
		if c.status != StatusError {
			errCh <- &zerr.ValidationError{Reason: fmt.Sprintf("retry is only valid from error, server %q is %s", c.serverID, c.status)}
			return
		}
		c.desired = DesiredConnected
		c.beginConnect()
		errCh <- nil
	})
	return <-errCh
}

// WaitForConnection blocks until the client reaches connected.toolDiscovered
// or until it lands in a state that will never get there on its own
// (disconnected, error, disposed) or ctx expires, whichever first.
func (c *Client) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitForConnectionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	if s := c.Status(); s == StatusConnectedToolDiscovered {
		return nil
	}

	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return &zerr.CancellationError{Reason: "client disposed while waiting for connection"}
			}
			switch change.Status {
			case StatusConnectedToolDiscovered:
				return nil
			case StatusError:
				return change.LastError
			case StatusAborting, StatusDisconnected:
				// Desired drifted off connected while we were waiting.
				return &zerr.CancellationError{Reason: "cancelled: desired state changed while waiting for connection"}
			case StatusDisposed:
				return &zerr.CancellationError{Reason: "client disposed while waiting for connection"}
			}
		case <-ctx.Done():
			return &zerr.CancellationError{Reason: "timed out waiting for connection"}
		}
	}
}

// Dispose tears the client down permanently: any in-flight connect is
// aborted, any live connection is closed, and the status$/events streams
// complete. Idempotent.
func (c *Client) Dispose(ctx context.Context) error {
	c.post(func() { c.handleSetDesired(DesiredDisposed) })

	select {
	case <-c.disposeDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(DefaultDisposeTimeout):
		return &zerr.CancellationError{Reason: "dispose timed out"}
	}
}

// handleSetDesired applies a desired-state change per the transition table
// in the connection engine's state machine. Runs on the actor goroutine.
func (c *Client) handleSetDesired(desired DesiredState) {
	c.mu.Lock()
	c.desired = desired
	status := c.status
	c.mu.Unlock()

	switch desired {
	case DesiredConnected:
		if status == StatusDisconnected || status == StatusError {
			c.beginConnect()
		}

	case DesiredDisconnected:
		switch {
		case status.IsConnecting():
			c.beginAbort()
		case status.IsConnected():
			c.beginTeardown(false)
		case status == StatusError:
			c.setStatus(StatusDisconnected)
		}

	case DesiredDisposed:
		switch {
		case status == StatusDisconnected || status == StatusError:
			c.setStatus(StatusDisposed)
			c.completeDispose()
		case status.IsConnecting():
			c.disposePending = true
			c.beginAbort()
		case status.IsConnected():
			c.disposePending = true
			c.beginTeardown(false)
		case status == StatusAborting || status == StatusDisconnecting || status == StatusDisconnectingDueToError:
			c.disposePending = true
		case status == StatusDisposed:
			// already terminal
		}
	}
}

// completeDispose releases Dispose's waiter and the broadcast streams.
// Must only be called once the status is already disposed.
func (c *Client) completeDispose() {
	select {
	case <-c.disposeDone:
		return // already completed
	default:
	}
	close(c.disposeDone)
	c.hub.Close()
}

// beginConnect starts a new connect attempt on its own goroutine, posting
// its outcome back onto the actor.
func (c *Client) beginConnect() {
	c.setStatus(StatusConnectingInitializing)

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelConnect = cancel
	c.mu.Unlock()

	go c.runConnect(ctx)
}

// runConnect performs the dial/OAuth/tool-discovery sequence off the actor
// goroutine (it may block for seconds on network I/O or minutes on user
// authorization) and posts the terminal event back.
func (c *Client) runConnect(ctx context.Context) {
	tr, err := c.attemptConnectWithOAuth(ctx)
	if err != nil {
		c.post(func() { c.onConnectFinished(nil, err) })
		return
	}

	tools, err := discoverTools(ctx, c.serverID, tr)
	if err != nil {
		_ = tr.Close()
		c.post(func() { c.onConnectFinished(nil, &zerr.ProtocolError{Cause: err}) })
		return
	}

	c.post(func() { c.onConnectFinished(&connectResult{transportClient: tr, tools: tools}, nil) })
}

type connectResult struct {
	transportClient transport.Client
	tools           map[string]Tool
}

// onConnectFinished applies the outcome of a connect attempt. It only acts
// on results that still correspond to a live connect attempt: if the status
// has already moved to aborting (desired flipped mid-flight) or disposed,
// the result is stale and is discarded (the transport, if any, is closed).
func (c *Client) onConnectFinished(result *connectResult, err error) {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()

	if status == StatusAborting {
		if result != nil {
			_ = result.transportClient.Close()
		}
		c.onAborted()
		return
	}
	if !status.IsConnecting() {
		if result != nil {
			_ = result.transportClient.Close()
		}
		return
	}

	if err != nil {
		var cancellation *zerr.CancellationError
		if errors.As(err, &cancellation) {
			c.onAborted()
			return
		}
		c.setError(err)
		return
	}

	c.mu.Lock()
	c.transportClient = result.transportClient
	c.tools = result.tools
	c.mu.Unlock()

	result.transportClient.OnNotification(c.dispatchNotification)

	c.setStatus(StatusConnectedInitial)
	c.setStatus(StatusConnectedToolDiscovered)
}

// onAborted finalizes an aborted connect attempt: status returns to
// disconnected (or disposed, if a dispose arrived while aborting).
func (c *Client) onAborted() {
	c.mu.Lock()
	c.cancelConnect = nil
	c.mu.Unlock()

	if c.disposePending {
		c.disposePending = false
		c.setStatus(StatusDisposed)
		c.completeDispose()
		return
	}

	c.setStatus(StatusDisconnected)

	c.mu.RLock()
	desired := c.desired
	c.mu.RUnlock()
	if desired == DesiredConnected {
		c.beginConnect()
	}
}

// beginAbort trips the in-flight connect attempt's cancellation and marks
// the status aborting; the actual transition out of aborting happens when
// the cancelled attempt's goroutine reports back via onConnectFinished.
func (c *Client) beginAbort() {
	c.mu.Lock()
	cancel := c.cancelConnect
	c.mu.Unlock()

	c.setStatus(StatusAborting)
	if cancel != nil {
		cancel()
	}
}

// beginTeardown closes the live transport connection. dueToError selects
// disconnecting vs disconnectingDueToError and, on completion, whether the
// client lands back in disconnected or error.
func (c *Client) beginTeardown(dueToError bool) {
	c.mu.Lock()
	tr := c.transportClient
	c.transportClient = nil
	c.tools = make(map[string]Tool)
	c.mu.Unlock()

	c.resources.clear()

	if dueToError {
		c.setStatus(StatusDisconnectingDueToError)
	} else {
		c.setStatus(StatusDisconnecting)
	}

	go func() {
		var closeErr error
		if tr != nil {
			closeErr = tr.Close()
		}
		if closeErr != nil {
			zlog.Warn("mcpclient", "server %s: teardown close error: %v", c.serverID, closeErr)
		}
		c.post(func() { c.onTornDown(dueToError) })
	}()
}

// onTornDown applies the outcome of beginTeardown's async close.
func (c *Client) onTornDown(dueToError bool) {
	if c.disposePending {
		c.disposePending = false
		c.setStatus(StatusDisposed)
		c.completeDispose()
		return
	}

	if dueToError {
		c.setStatus(StatusError)
		return
	}

	c.setStatus(StatusDisconnected)

	c.mu.RLock()
	desired := c.desired
	c.mu.RUnlock()
	if desired == DesiredConnected {
		c.beginConnect()
	}
}

// runtimeError records err as the last error and, from a connected state,
// tears the connection down through disconnectingDueToError into error. It
// does not reconnect. Tool calls and resource reads do not call it; they
// return their errors to the caller.
func (c *Client) runtimeError(err error) {
	c.post(func() {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		if c.Status().IsConnected() {
			c.beginTeardown(true)
		}
	})
}

// onRedirectToAuthorization is the redirect hook wired into this client's
// mcpauth.Provider: it records the pending authorization URL and publishes
// the connecting.awaitingOAuth sub-state before returning control to the
// provider (and, transitively, the blocked callback wait in
// runOAuthChallenge).
func (c *Client) onRedirectToAuthorization(ctx context.Context, authorizationURL string) error {
	c.postSync(func() {
		c.mu.Lock()
		c.pendingOAuthURL = authorizationURL
		c.mu.Unlock()
		c.setStatus(StatusConnectingAwaitingOAuth)
	})
	return nil
}

// discoverTools issues tools/list against tr and builds the qualified tool
// map, prefixing every tool name with "<serverId>_".
func discoverTools(ctx context.Context, serverID string, tr transport.Client) (map[string]Tool, error) {
	rawTools, err := tr.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	tools := make(map[string]Tool, len(rawTools))
	for _, rt := range rawTools {
		rt := rt
		qualified := serverID + "_" + rt.Name
		inputSchema, _ := json.Marshal(rt.InputSchema)
		validate := compileInputValidator(inputSchema)
		tools[qualified] = Tool{
			Name:        qualified,
			Description: rt.Description,
			InputSchema: inputSchema,
			Execute: func(ctx context.Context, input map[string]any) (ToolResult, error) {
				if validate != nil {
					if err := validate(input); err != nil {
						return ToolResult{}, &zerr.ValidationError{Reason: fmt.Sprintf("input for %s: %v", qualified, err)}
					}
				}
				result, err := tr.CallTool(ctx, rt.Name, input)
				if err != nil {
					return ToolResult{}, &zerr.ProtocolError{Cause: err}
				}
				return toToolResult(result), nil
			},
		}
	}
	return tools, nil
}

// toToolResult converts an mcp-go CallToolResult into this package's
// ToolResult shape. A server that still speaks the legacy {toolResult}
// wire shape surfaces here as an empty content array: the SDK's typed
// parsing consumes the response body before this layer sees it, so there
// is no raw payload left to wrap (see DESIGN.md).
func toToolResult(result *gomcp.CallToolResult) ToolResult {
	blocks := make([]Block, 0, len(result.Content))
	for _, item := range result.Content {
		switch v := item.(type) {
		case gomcp.TextContent:
			blocks = append(blocks, TextBlock(v.Text))
		case gomcp.ImageContent:
			blocks = append(blocks, ImageBlock(v.MIMEType, v.Data))
		}
	}
	var structured []byte
	if result.StructuredContent != nil {
		structured, _ = json.Marshal(result.StructuredContent)
	}
	return ToolResult{Content: blocks, StructuredContent: structured, IsError: result.IsError}
}
