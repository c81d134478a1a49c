package mcpauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverCachesMetadata(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/.well-known/oauth-authorization-server", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Metadata{Issuer: "https://issuer", TokenEndpoint: "https://issuer/token"})
	}))
	defer srv.Close()

	d := NewDiscoverer(nil)
	for i := 0; i < 3; i++ {
		metadata, err := d.Discover(context.Background(), srv.URL)
		require.NoError(t, err)
		require.NotNil(t, metadata)
		assert.Equal(t, "https://issuer/token", metadata.TokenEndpoint)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestDiscoverMissingMetadataIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	metadata, err := NewDiscoverer(nil).Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Nil(t, metadata)
}

func TestResolveProtectedResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ProtectedResourceMetadata{
			Resource:             "https://mcp.example.com",
			AuthorizationServers: []string{"https://auth.example.com", "https://backup.example.com"},
		})
	}))
	defer srv.Close()

	issuer, err := NewDiscoverer(nil).ResolveProtectedResource(context.Background(), srv.URL+"/.well-known/oauth-protected-resource")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", issuer)
}

func TestResolveProtectedResourceMissingDocumentYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	issuer, err := NewDiscoverer(nil).ResolveProtectedResource(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	assert.Empty(t, issuer)
}
