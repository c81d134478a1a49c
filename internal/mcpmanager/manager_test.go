package mcpmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zypher/internal/mcpclient"
	"zypher/internal/registry"
	"zypher/internal/transport"
	"zypher/internal/zerr"
	"zypher/pkg/mcpauth"
)

func cmdEndpoint(id string) transport.Endpoint {
	return transport.Endpoint{ID: id, Command: &transport.CommandEndpoint{Command: "true"}}
}

func TestRegisterServerRejectsDuplicateAndInvalidID(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	require.NoError(t, m.RegisterServer(context.Background(), cmdEndpoint("a"), false, Source{Kind: "direct"}, nil))

	err := m.RegisterServer(context.Background(), cmdEndpoint("a"), false, Source{Kind: "direct"}, nil)
	var validation *zerr.ValidationError
	assert.ErrorAs(t, err, &validation)

	err = m.RegisterServer(context.Background(), cmdEndpoint("not a valid id!"), false, Source{Kind: "direct"}, nil)
	assert.ErrorAs(t, err, &validation)
}

func TestRegisterAndDeregisterEmitEvents(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	events, unsub := m.Events()
	defer unsub()

	require.NoError(t, m.RegisterServer(context.Background(), cmdEndpoint("a"), false, Source{Kind: "direct"}, nil))
	require.NoError(t, m.DeregisterServer(context.Background(), "a"))

	e1 := <-events
	assert.Equal(t, EventServerAdded, e1.Kind)
	assert.Equal(t, "a", e1.ServerID)

	e2 := <-events
	assert.Equal(t, EventServerRemoved, e2.Kind)
}

func TestDeregisterUnknownServerFails(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	err := m.DeregisterServer(context.Background(), "missing")
	var validation *zerr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestUpdateServerEnabledOnlyEmitsUpdated(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	require.NoError(t, m.RegisterServer(context.Background(), cmdEndpoint("a"), false, Source{Kind: "direct"}, nil))

	events, unsub := m.Events()
	defer unsub()

	enabled := true
	require.NoError(t, m.UpdateServer(context.Background(), "a", UpdateServerOptions{Enabled: &enabled}))

	select {
	case e := <-events:
		assert.Equal(t, EventServerUpdated, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for serverUpdated")
	}
}

func TestRegisterToolRejectsDuplicateAndIsListed(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	builtin := mcpclient.Tool{Name: "srv_search", Description: "local override"}
	require.NoError(t, m.RegisterTool(builtin))

	err := m.RegisterTool(builtin)
	var validation *zerr.ValidationError
	assert.ErrorAs(t, err, &validation)

	tool, ok := m.GetTool("srv_search")
	require.True(t, ok)
	assert.Equal(t, "local override", tool.Description)

	tools := m.Tools()
	assert.Contains(t, tools, "srv_search")
}

// fakeStore resolves every package to a fixed command descriptor.
type fakeStore struct {
	lastPkg string
	detail  registry.ServerDetail
	err     error
}

func (f *fakeStore) FetchWithDefaultTimeout(ctx context.Context, pkg string) (registry.ServerDetail, error) {
	f.lastPkg = pkg
	return f.detail, f.err
}

func TestRegisterServerFromRegistry(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	store := &fakeStore{detail: registry.ServerDetail{
		Name:     "everything",
		Packages: []registry.PackageDescriptor{{RegistryName: "npm", Name: "server-everything"}},
	}}
	m.SetRegistry(store)

	require.NoError(t, m.RegisterServerFromRegistry(context.Background(), "@acme/everything", false, nil))
	assert.Equal(t, "@acme/everything", store.lastPkg)

	info, ok := m.Servers()["acme-everything"]
	require.True(t, ok)
	assert.Equal(t, "registry", info.Source.Kind)
	assert.Equal(t, "@acme/everything", info.Source.PackageIdentifier)
	require.NotNil(t, info.Endpoint.Command)
	assert.Equal(t, "npx", info.Endpoint.Command.Command)
}

func TestRegisterServerFromRegistryRejectsBadIdentifier(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())
	m.SetRegistry(&fakeStore{})

	err := m.RegisterServerFromRegistry(context.Background(), "not-scoped", false, nil)
	var validation *zerr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestRegisterServerFromRegistryWithoutStoreFails(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	err := m.RegisterServerFromRegistry(context.Background(), "@acme/tool", false, nil)
	var validation *zerr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, err.Error(), "no registry client")
}

func TestWatchOAuthStorageRetriesErroredServerOnExternalTokenWrite(t *testing.T) {
	m := New()
	defer m.Dispose(context.Background())

	storage, err := mcpauth.NewStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.WatchOAuthStorage(storage))

	// A second watcher for the same manager is rejected.
	var validation *zerr.ValidationError
	assert.ErrorAs(t, m.WatchOAuthStorage(storage), &validation)

	// Nothing listens on the discard port, so the connect attempt fails and
	// the client settles in error.
	serverURL := "http://127.0.0.1:9/mcp"
	endpoint := transport.Endpoint{ID: "remote", Remote: &transport.RemoteEndpoint{URL: serverURL}}
	require.NoError(t, m.RegisterServer(context.Background(), endpoint, true, Source{Kind: "direct"}, nil))

	client := m.Servers()["remote"].Client
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) && client.Status() != mcpclient.StatusError {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, mcpclient.StatusError, client.Status())

	events, unsub := m.Events()
	defer unsub()

	// A sibling process persists fresh tokens for this server's URL hash;
	// the watcher must drive a retry.
	require.NoError(t, storage.SaveTokens(mcpauth.ServerHash(serverURL), &mcpauth.Tokens{AccessToken: "t", ExpiresIn: 3600}))

	timeout := time.After(10 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == EventClientStatusChanged && e.Status.Status == mcpclient.StatusConnectingInitializing {
				return
			}
		case <-timeout:
			t.Fatal("watcher never retried the errored server after the external token write")
		}
	}
}

func TestDisposeEmitsServerRemovedThenCompletes(t *testing.T) {
	m := New()
	require.NoError(t, m.RegisterServer(context.Background(), cmdEndpoint("a"), false, Source{Kind: "direct"}, nil))
	require.NoError(t, m.RegisterServer(context.Background(), cmdEndpoint("b"), false, Source{Kind: "direct"}, nil))

	events, unsub := m.Events()
	defer unsub()

	require.NoError(t, m.Dispose(context.Background()))

	removed := map[string]bool{}
	for e := range events {
		if e.Kind == EventServerRemoved {
			removed[e.ServerID] = true
		}
	}
	// The range loop only exits because Dispose completed the stream.
	assert.True(t, removed["a"])
	assert.True(t, removed["b"])
}

func TestDisposeIsIdempotentAndClearsState(t *testing.T) {
	m := New()
	require.NoError(t, m.RegisterServer(context.Background(), cmdEndpoint("a"), false, Source{Kind: "direct"}, nil))
	require.NoError(t, m.RegisterTool(mcpclient.Tool{Name: "builtin"}))

	require.NoError(t, m.Dispose(context.Background()))
	require.NoError(t, m.Dispose(context.Background()))

	assert.Empty(t, m.Servers())
	assert.Empty(t, m.Tools())

	err := m.RegisterServer(context.Background(), cmdEndpoint("b"), false, Source{Kind: "direct"}, nil)
	var validation *zerr.ValidationError
	assert.ErrorAs(t, err, &validation)
}
