package mcpclient

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zypher/internal/transport"
	"zypher/internal/zerr"
)

// readingFakeTransport extends fakeTransport with a resources.List/Read
// implementation so the cache and size-enforcement logic can be exercised.
type readingFakeTransport struct {
	fakeTransport
	resources  []mcp.Resource
	reads      int
	readResult *mcp.ReadResourceResult
}

func (f *readingFakeTransport) ListResources(ctx context.Context, cursor string) ([]mcp.Resource, string, error) {
	return f.resources, "", nil
}

func (f *readingFakeTransport) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	f.reads++
	return f.readResult, nil
}

func connectedTestClient(t *testing.T, ft transport.Client) *Client {
	t.Helper()
	withDial(t, func(ctx context.Context, ep transport.Endpoint, tokens transport.TokenSource) (transport.Client, error) {
		return ft, nil
	})
	c, err := NewClient(Options{ServerID: "res-srv", Endpoint: testEndpoint("res-srv")})
	require.NoError(t, err)
	c.SetDesiredEnabled(true)
	require.NoError(t, c.WaitForConnection(context.Background(), time.Second))
	t.Cleanup(func() { c.Dispose(context.Background()) })
	return c
}

func TestListResourcesCachesAcrossCalls(t *testing.T) {
	ft := &readingFakeTransport{resources: []mcp.Resource{{URI: "file:///a.txt", Name: "a"}}}
	c := connectedTestClient(t, ft)

	resources, _, err := c.ListResources(context.Background(), ListResourcesOptions{UseCache: true})
	require.NoError(t, err)
	assert.Len(t, resources, 1)

	ft.resources = nil // server no longer returns anything; cache should still serve the prior page
	resources, _, err = c.ListResources(context.Background(), ListResourcesOptions{UseCache: true})
	require.NoError(t, err)
	assert.Len(t, resources, 1)
}

func TestListResourcesFilter(t *testing.T) {
	ft := &readingFakeTransport{resources: []mcp.Resource{
		{URI: "file:///a.txt", Name: "a", MIMEType: "text/plain"},
		{URI: "file:///b.png", Name: "b", MIMEType: "image/png"},
	}}
	c := connectedTestClient(t, ft)

	resources, _, err := c.ListResources(context.Background(), ListResourcesOptions{
		Filter: &ResourceFilter{MimeType: "image/png"},
	})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "b", resources[0].Name)
}

func TestReadResourceEnforcesMaxSize(t *testing.T) {
	ft := &readingFakeTransport{readResult: &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{mcp.TextResourceContents{URI: "file:///big.txt", Text: "0123456789"}},
	}}
	c := connectedTestClient(t, ft)

	_, err := c.ReadResource(context.Background(), ReadResourceOptions{URI: "file:///big.txt", MaxSize: 5})
	var resErr *zerr.ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, zerr.CodeInvalidParams, resErr.Code)

	// Exactly at the limit succeeds; the content is 10 utf8 bytes.
	result, err := c.ReadResource(context.Background(), ReadResourceOptions{URI: "file:///big.txt", MaxSize: 10})
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestReadResourceWhileDisconnectedIsUnavailable(t *testing.T) {
	c, err := NewClient(Options{ServerID: "res-off", Endpoint: testEndpoint("res-off")})
	require.NoError(t, err)
	defer c.Dispose(context.Background())

	_, err = c.ReadResource(context.Background(), ReadResourceOptions{URI: "file:///a.txt"})
	var resErr *zerr.ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, zerr.CodeResourceUnavailable, resErr.Code)
}

func TestReadBinaryResourceDecodesBlob(t *testing.T) {
	ft := &readingFakeTransport{readResult: &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{mcp.BlobResourceContents{
			URI:      "file:///img.png",
			MIMEType: "image/png",
			Blob:     base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}),
		}},
	}}
	c := connectedTestClient(t, ft)

	bin, err := c.ReadBinaryResource(context.Background(), ReadResourceOptions{URI: "file:///img.png"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", bin.MIMEType)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, bin.Data)
}

func TestReadBinaryResourceOnTextOnlyResourceFails(t *testing.T) {
	ft := &readingFakeTransport{readResult: &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{mcp.TextResourceContents{URI: "file:///a.txt", Text: "hello"}},
	}}
	c := connectedTestClient(t, ft)

	_, err := c.ReadBinaryResource(context.Background(), ReadResourceOptions{URI: "file:///a.txt"})
	var resErr *zerr.ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, zerr.CodeResourceNotFound, resErr.Code)
}

func TestReadResourceCacheAvoidsSecondRoundTrip(t *testing.T) {
	ft := &readingFakeTransport{readResult: &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{mcp.TextResourceContents{URI: "file:///a.txt", Text: "hello"}},
	}}
	c := connectedTestClient(t, ft)

	_, err := c.ReadResource(context.Background(), ReadResourceOptions{URI: "file:///a.txt", UseCache: true})
	require.NoError(t, err)
	_, err = c.ReadResource(context.Background(), ReadResourceOptions{URI: "file:///a.txt", UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 1, ft.reads)
}

func TestDispatchNotificationInvalidatesResourceCache(t *testing.T) {
	ft := &readingFakeTransport{readResult: &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{mcp.TextResourceContents{URI: "file:///a.txt", Text: "hello"}},
	}}
	c := connectedTestClient(t, ft)

	_, err := c.ReadResource(context.Background(), ReadResourceOptions{URI: "file:///a.txt", UseCache: true})
	require.NoError(t, err)

	c.dispatchNotification(mcp.JSONRPCNotification{Notification: mcp.Notification{
		Method: "notifications/resources/updated",
		Params: mcp.NotificationParams{AdditionalFields: map[string]any{"uri": "file:///a.txt"}},
	}})

	_, err = c.ReadResource(context.Background(), ReadResourceOptions{URI: "file:///a.txt", UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2, ft.reads)
}

func TestResourceCacheTTLExpiry(t *testing.T) {
	rc := newResourceCache()
	rc.ttl = time.Millisecond
	rc.putListing("", []mcp.Resource{{Name: "a"}}, "")
	time.Sleep(5 * time.Millisecond)
	_, _, ok := rc.getListing("")
	assert.False(t, ok)
}
