package mcpauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"zypher/internal/zlog"
)

// DefaultMetadataCacheTTL bounds how long a discovered metadata document is
// trusted before a fresh discovery attempt is made.
const DefaultMetadataCacheTTL = 30 * time.Minute

type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Discoverer fetches and caches RFC 8414 authorization-server metadata,
// deduplicating concurrent lookups for the same issuer via singleflight so
// N parallel clients racing to connect to the same server only pay for one
// HTTP round-trip.
type Discoverer struct {
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]metadataCacheEntry
	group singleflight.Group
}

// NewDiscoverer creates a Discoverer using httpClient, or http.DefaultClient
// if nil.
func NewDiscoverer(httpClient *http.Client) *Discoverer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Discoverer{httpClient: httpClient, cache: make(map[string]metadataCacheEntry)}
}

// Discover fetches metadata for origin's well-known endpoint per RFC 8414,
// returning nil, nil if the origin does not publish metadata (callers fall
// back to the ordered candidate endpoint list).
func (d *Discoverer) Discover(ctx context.Context, origin string) (*Metadata, error) {
	origin = strings.TrimSuffix(origin, "/")

	d.mu.RLock()
	if entry, ok := d.cache[origin]; ok && time.Since(entry.fetchedAt) < DefaultMetadataCacheTTL {
		d.mu.RUnlock()
		return entry.metadata, nil
	}
	d.mu.RUnlock()

	result, err, _ := d.group.Do(origin, func() (interface{}, error) {
		return d.fetch(ctx, origin)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*Metadata), nil
}

// ProtectedResourceMetadata is the RFC 9728 protected-resource document a
// 401 challenge may point at via its resource_metadata parameter.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
}

// ResolveProtectedResource fetches the RFC 9728 document at metadataURL and
// returns the first authorization server it names, or "" if the document is
// unreachable or names none.
func (d *Discoverer) ResolveProtectedResource(ctx context.Context, metadataURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("build protected-resource request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		zlog.Debug("OAuthDiscovery", "protected-resource fetch failed for %s: %v", metadataURL, err)
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zlog.Debug("OAuthDiscovery", "protected-resource endpoint %s returned %d", metadataURL, resp.StatusCode)
		return "", nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read protected-resource response: %w", err)
	}

	var metadata ProtectedResourceMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return "", fmt.Errorf("parse protected-resource response: %w", err)
	}
	if len(metadata.AuthorizationServers) == 0 {
		return "", nil
	}
	return metadata.AuthorizationServers[0], nil
}

func (d *Discoverer) fetch(ctx context.Context, origin string) (*Metadata, error) {
	url := origin + "/.well-known/oauth-authorization-server"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		zlog.Debug("OAuthDiscovery", "metadata fetch failed for %s: %v", origin, err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zlog.Debug("OAuthDiscovery", "metadata endpoint %s returned %d", url, resp.StatusCode)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read metadata response: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("parse metadata response: %w", err)
	}

	d.mu.Lock()
	d.cache[origin] = metadataCacheEntry{metadata: &metadata, fetchedAt: time.Now()}
	d.mu.Unlock()

	return &metadata, nil
}
