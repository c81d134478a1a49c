package mcpclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"zypher/internal/transport"
	"zypher/internal/zerr"
)

// DefaultResourceCacheTTL is how long a cached listing or read survives
// before it is considered stale.
const DefaultResourceCacheTTL = 5 * time.Minute

// ResourceFilter narrows a listing to resources matching every populated
// field; Pattern fields are regular expressions.
type ResourceFilter struct {
	MimeType     string
	MinSize      int64
	MaxSize      int64
	NamePattern  string
	TitlePattern string
	Annotations  map[string]string
}

// resourceWireFields reads the optional descriptor fields (title, size,
// annotations) from the resource's marshaled form; a server or SDK revision
// that omits them yields empty/zero values rather than a decode failure.
type resourceWireFields struct {
	Title       string         `json:"title"`
	Size        int64          `json:"size"`
	Annotations map[string]any `json:"annotations"`
}

func wireFieldsOf(r mcp.Resource) resourceWireFields {
	var fields resourceWireFields
	if data, err := json.Marshal(r); err == nil {
		_ = json.Unmarshal(data, &fields)
	}
	return fields
}

func (f *ResourceFilter) matches(r mcp.Resource) bool {
	if f == nil {
		return true
	}
	if f.MimeType != "" && r.MIMEType != f.MimeType {
		return false
	}
	if f.NamePattern != "" {
		if ok, _ := regexp.MatchString(f.NamePattern, r.Name); !ok {
			return false
		}
	}
	if f.TitlePattern == "" && f.MinSize <= 0 && f.MaxSize <= 0 && len(f.Annotations) == 0 {
		return true
	}
	fields := wireFieldsOf(r)
	if f.TitlePattern != "" {
		if ok, _ := regexp.MatchString(f.TitlePattern, fields.Title); !ok {
			return false
		}
	}
	if f.MinSize > 0 && fields.Size < f.MinSize {
		return false
	}
	if f.MaxSize > 0 && fields.Size > f.MaxSize {
		return false
	}
	for key, want := range f.Annotations {
		got, ok := fields.Annotations[key]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// resourceCacheEntry is a single cached listing or read, invalidated by TTL
// or an explicit notification-driven delete.
type resourceCacheEntry struct {
	listing    []mcp.Resource
	nextCursor string
	read       *mcp.ReadResourceResult
	storedAt   time.Time
}

// resourceCache is a per-client, TTL-bounded cache of resource listings and
// reads. Keys are "list:<cursor|default>" for listings and the raw URI for
// reads.
type resourceCache struct {
	mu      sync.Mutex
	entries map[string]resourceCacheEntry
	ttl     time.Duration
}

func newResourceCache() *resourceCache {
	return &resourceCache{entries: make(map[string]resourceCacheEntry), ttl: DefaultResourceCacheTTL}
}

func listCacheKey(cursor string) string {
	if cursor == "" {
		cursor = "default"
	}
	return "list:" + cursor
}

func (rc *resourceCache) getListing(cursor string) ([]mcp.Resource, string, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[listCacheKey(cursor)]
	if !ok || time.Since(e.storedAt) > rc.ttl {
		return nil, "", false
	}
	return e.listing, e.nextCursor, true
}

func (rc *resourceCache) putListing(cursor string, resources []mcp.Resource, nextCursor string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[listCacheKey(cursor)] = resourceCacheEntry{listing: resources, nextCursor: nextCursor, storedAt: time.Now()}
}

func (rc *resourceCache) getRead(uri string) (*mcp.ReadResourceResult, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[uri]
	if !ok || time.Since(e.storedAt) > rc.ttl {
		return nil, false
	}
	return e.read, true
}

func (rc *resourceCache) putRead(uri string, result *mcp.ReadResourceResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries[uri] = resourceCacheEntry{read: result, storedAt: time.Now()}
}

// invalidate drops a single URI's cached read, on notifications/resources/updated.
func (rc *resourceCache) invalidate(uri string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.entries, uri)
}

// clear drops every cached entry, on disconnect or notifications/resources/list_changed.
func (rc *resourceCache) clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[string]resourceCacheEntry)
}

// resourceTransport is currentTransport with the resource-operation error
// contract: a client with no live connection surfaces -32001.
func (c *Client) resourceTransport() (transport.Client, error) {
	tr, err := c.currentTransport()
	if err != nil {
		return nil, &zerr.ResourceError{Code: zerr.CodeResourceUnavailable, Reason: fmt.Sprintf("server %q not connected", c.serverID)}
	}
	return tr, nil
}

// resourceRPCError maps a transport failure onto the resource error codes:
// deadline/cancellation becomes -32004, everything else -32603.
func resourceRPCError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &zerr.ResourceError{Code: zerr.CodeResourceTimeout, Reason: "resource operation timed out", Cause: err}
	}
	return &zerr.ResourceError{Code: zerr.CodeInternal, Reason: "resource operation failed", Cause: err}
}

// ListResourcesOptions configures ListResources.
type ListResourcesOptions struct {
	Cursor   string
	Filter   *ResourceFilter
	UseCache bool
}

// ListResources returns one page of resources, optionally filtered and
// served from cache.
func (c *Client) ListResources(ctx context.Context, opts ListResourcesOptions) ([]mcp.Resource, string, error) {
	tr, err := c.resourceTransport()
	if err != nil {
		return nil, "", err
	}

	if opts.UseCache {
		if cached, next, ok := c.resources.getListing(opts.Cursor); ok {
			return filterResources(cached, opts.Filter), next, nil
		}
	}

	resources, next, err := tr.ListResources(ctx, opts.Cursor)
	if err != nil {
		return nil, "", resourceRPCError(err)
	}
	c.resources.putListing(opts.Cursor, resources, next)
	return filterResources(resources, opts.Filter), next, nil
}

func filterResources(resources []mcp.Resource, filter *ResourceFilter) []mcp.Resource {
	if filter == nil {
		return resources
	}
	out := make([]mcp.Resource, 0, len(resources))
	for _, r := range resources {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// ReadResourceOptions configures ReadResource.
type ReadResourceOptions struct {
	URI      string
	MaxSize  int64
	UseCache bool
}

// ReadResource reads a single resource, enforcing MaxSize (if positive) by
// summing the utf8 byte length of text contents and 0.75x the base64 blob
// length.
func (c *Client) ReadResource(ctx context.Context, opts ReadResourceOptions) (*mcp.ReadResourceResult, error) {
	tr, err := c.resourceTransport()
	if err != nil {
		return nil, err
	}

	if opts.UseCache {
		if cached, ok := c.resources.getRead(opts.URI); ok {
			if err := enforceMaxSize(cached, opts.MaxSize); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	result, err := tr.ReadResource(ctx, opts.URI)
	if err != nil {
		return nil, resourceRPCError(err)
	}
	if err := enforceMaxSize(result, opts.MaxSize); err != nil {
		return nil, err
	}
	c.resources.putRead(opts.URI, result)
	return result, nil
}

// BinaryResource is the decoded payload of a blob resource read.
type BinaryResource struct {
	URI      string
	MIMEType string
	Data     []byte
}

// ReadBinaryResource reads uri and decodes its first blob content. A
// resource with only text contents yields -32002.
func (c *Client) ReadBinaryResource(ctx context.Context, opts ReadResourceOptions) (*BinaryResource, error) {
	result, err := c.ReadResource(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, content := range result.Contents {
		blob, ok := content.(mcp.BlobResourceContents)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(blob.Blob)
		if err != nil {
			return nil, &zerr.ResourceError{Code: zerr.CodeInternal, Reason: fmt.Sprintf("decode blob for %s", opts.URI), Cause: err}
		}
		return &BinaryResource{URI: blob.URI, MIMEType: blob.MIMEType, Data: data}, nil
	}
	return nil, &zerr.ResourceError{Code: zerr.CodeResourceNotFound, Reason: fmt.Sprintf("no binary content at %s", opts.URI)}
}

func enforceMaxSize(result *mcp.ReadResourceResult, maxSize int64) error {
	if maxSize <= 0 || result == nil {
		return nil
	}
	var total int64
	for _, content := range result.Contents {
		switch v := content.(type) {
		case mcp.TextResourceContents:
			total += int64(len(v.Text))
		case mcp.BlobResourceContents:
			total += int64(float64(len(v.Blob)) * 0.75)
		}
	}
	if total > maxSize {
		return &zerr.ResourceError{Code: zerr.CodeInvalidParams, Reason: fmt.Sprintf("content too large: %d bytes exceeds max %d", total, maxSize)}
	}
	return nil
}

// ListResourceTemplates returns the server's advertised resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error) {
	tr, err := c.resourceTransport()
	if err != nil {
		return nil, err
	}
	templates, err := tr.ListResourceTemplates(ctx)
	if err != nil {
		return nil, resourceRPCError(err)
	}
	return templates, nil
}

// SubscribeToResource subscribes to update notifications for uri; onUpdated
// fires (with the cache entry for uri invalidated) whenever the server
// sends notifications/resources/updated for that URI.
func (c *Client) SubscribeToResource(ctx context.Context, uri string, onUpdated func(string)) error {
	tr, err := c.resourceTransport()
	if err != nil {
		return err
	}
	if err := tr.SubscribeResource(ctx, uri); err != nil {
		return resourceRPCError(err)
	}
	c.mu.Lock()
	c.resourceSubs[uri] = onUpdated
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromResource reverses SubscribeToResource.
func (c *Client) UnsubscribeFromResource(ctx context.Context, uri string) error {
	tr, err := c.resourceTransport()
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.resourceSubs, uri)
	c.mu.Unlock()
	if err := tr.UnsubscribeResource(ctx, uri); err != nil {
		return resourceRPCError(err)
	}
	return nil
}

// OnResourcesListChanged registers a callback invoked whenever the server
// sends notifications/resources/list_changed (after the cache has already
// been cleared).
func (c *Client) OnResourcesListChanged(cb func()) {
	c.mu.Lock()
	c.listChangedSubs = append(c.listChangedSubs, cb)
	c.mu.Unlock()
}

// dispatchNotification is the single demultiplexer for server-initiated
// notifications, routing by method name.
func (c *Client) dispatchNotification(n mcp.JSONRPCNotification) {
	switch n.Method {
	case "notifications/resources/updated":
		uri, _ := n.Params.AdditionalFields["uri"].(string)
		if uri == "" {
			return
		}
		c.resources.invalidate(uri)
		c.mu.Lock()
		cb := c.resourceSubs[uri]
		c.mu.Unlock()
		if cb != nil {
			cb(uri)
		}
	case "notifications/resources/list_changed":
		c.resources.clear()
		c.mu.Lock()
		subs := append([]func(){}, c.listChangedSubs...)
		c.mu.Unlock()
		for _, cb := range subs {
			cb()
		}
	}
}
