// Package mcpclient implements the per-server connection engine: the state
// machine that reconciles a settable DesiredState with a hierarchical
// observable Status, drives the MCP handshake and tool discovery over the
// transport package, executes tool calls, and exposes resource listing and
// reading with a per-client TTL cache.
package mcpclient

// Status is the hierarchical connection state of a single client. String
// values follow the dotted "parent.child" form from the state machine
// tables so logging and tests can compare against a flat set of constants
// without a separate parent/child lookup.
type Status string

const (
	StatusDisconnected            Status = "disconnected"
	StatusConnectingInitializing  Status = "connecting.initializing"
	StatusConnectingAwaitingOAuth Status = "connecting.awaitingOAuth"
	StatusConnectedInitial        Status = "connected.initial"
	StatusConnectedToolDiscovered Status = "connected.toolDiscovered"
	StatusDisconnecting           Status = "disconnecting"
	StatusDisconnectingDueToError Status = "disconnectingDueToError"
	StatusError                   Status = "error"
	StatusAborting                Status = "aborting"
	StatusDisposed                Status = "disposed"
)

// IsConnecting reports whether s is either sub-state of the connecting
// parent, for callers that want to match on the parent rather than the
// exact sub-state. PendingOAuthURL is set only in the awaitingOAuth
// sub-state, never inferred from the parent.
func (s Status) IsConnecting() bool {
	return s == StatusConnectingInitializing || s == StatusConnectingAwaitingOAuth
}

// IsConnected reports whether s is either sub-state of the connected parent.
func (s Status) IsConnected() bool {
	return s == StatusConnectedInitial || s == StatusConnectedToolDiscovered
}

// IsTerminal reports whether s is the disposed terminal state.
func (s Status) IsTerminal() bool { return s == StatusDisposed }

// DesiredState is the caller-selected target the state machine reconciles
// the observable Status toward.
type DesiredState string

const (
	DesiredConnected    DesiredState = "connected"
	DesiredDisconnected DesiredState = "disconnected"
	DesiredDisposed     DesiredState = "disposed"
)

// StatusChange is one entry in the status$ stream: the new status, plus the
// pending OAuth URL and last error snapshotted at the moment of the
// transition (both are usually empty/nil; they're populated exactly in the
// awaitingOAuth and error states respectively).
type StatusChange struct {
	Status          Status
	PendingOAuthURL string
	LastError       error
}
