// Package registry implements the registry adapter: it fetches server
// descriptors from a remote "MCP store" and translates them into the
// transport endpoints the connection engine dials.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"zypher/internal/transport"
	"zypher/internal/zconfig"
	"zypher/internal/zerr"
	"zypher/internal/zlog"
)

// packageIdentifierPattern matches the "@scope/name" package identifier
// grammar the registry adapter accepts.
var packageIdentifierPattern = regexp.MustCompile(`^@[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// NameValue is the generic {name, value} pair shape the store uses for both
// remote headers and environment variables.
type NameValue struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// RemoteDescriptor is one entry in ServerDetail.Remotes.
type RemoteDescriptor struct {
	URL     string      `json:"url" yaml:"url"`
	Headers []NameValue `json:"headers" yaml:"headers"`
}

// PackageDescriptor is one entry in ServerDetail.Packages.
type PackageDescriptor struct {
	RegistryName         string      `json:"registryName" yaml:"registryName"` // npm, pypi, uv, docker
	Name                 string      `json:"name" yaml:"name"`
	Version              string      `json:"version" yaml:"version"`
	RuntimeArguments     []NameValue `json:"runtimeArguments" yaml:"runtimeArguments"`
	PackageArguments     []NameValue `json:"packageArguments" yaml:"packageArguments"`
	EnvironmentVariables []NameValue `json:"environmentVariables" yaml:"environmentVariables"`
}

// ServerDetail is the store's descriptor for one MCP server package.
type ServerDetail struct {
	ID       string              `json:"id" yaml:"id"`
	Name     string              `json:"name" yaml:"name"`
	Remotes  []RemoteDescriptor  `json:"remotes" yaml:"remotes"`
	Packages []PackageDescriptor `json:"packages" yaml:"packages"`
}

// ValidatePackageIdentifier rejects anything not matching "@scope/name".
func ValidatePackageIdentifier(pkg string) error {
	if !packageIdentifierPattern.MatchString(pkg) {
		return &zerr.ValidationError{Reason: fmt.Sprintf("package identifier %q does not match @scope/name", pkg)}
	}
	return nil
}

var serverIDSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ServerIDForPackage derives a deterministic server id from an "@scope/name"
// package identifier: "@acme/search" becomes "acme-search". Characters
// outside the server-id alphabet are replaced with "-".
func ServerIDForPackage(pkg string) string {
	id := strings.TrimPrefix(pkg, "@")
	id = strings.ReplaceAll(id, "/", "-")
	id = serverIDSanitizer.ReplaceAllString(id, "-")
	if len(id) > 128 {
		id = id[:128]
	}
	return id
}

// ToEndpoint converts a ServerDetail into the endpoint the transport dials:
// prefer the first remote; else derive a command from the first package by
// registry name; else fail. serverID is the id the resulting endpoint is
// registered under, distinct from the store's own descriptor id.
func (d ServerDetail) ToEndpoint(serverID string) (transport.Endpoint, error) {
	if len(d.Remotes) > 0 {
		remote := d.Remotes[0]
		headers := make(map[string]string, len(remote.Headers))
		for _, h := range remote.Headers {
			headers[h.Name] = h.Value
		}
		return transport.Endpoint{
			ID:          serverID,
			DisplayName: d.Name,
			Remote:      &transport.RemoteEndpoint{URL: remote.URL, Headers: headers},
		}, nil
	}

	if len(d.Packages) > 0 {
		pkg := d.Packages[0]
		command, args, err := commandForPackage(pkg)
		if err != nil {
			return transport.Endpoint{}, err
		}
		for _, a := range pkg.RuntimeArguments {
			args = append(args, a.Value)
		}
		for _, a := range pkg.PackageArguments {
			args = append(args, a.Value)
		}
		env := make(map[string]string, len(pkg.EnvironmentVariables))
		for _, e := range pkg.EnvironmentVariables {
			env[e.Name] = e.Value
		}
		return transport.Endpoint{
			ID:          serverID,
			DisplayName: d.Name,
			Command:     &transport.CommandEndpoint{Command: command, Args: args, Env: env},
		}, nil
	}

	return transport.Endpoint{}, &zerr.ValidationError{Reason: "no valid remote or package configuration"}
}

// commandForPackage picks the command + base args for pkg's registry name.
func commandForPackage(pkg PackageDescriptor) (string, []string, error) {
	versioned := pkg.Name
	if pkg.Version != "" {
		versioned = pkg.Name + "@" + pkg.Version
	}
	switch pkg.RegistryName {
	case "npm":
		return "npx", []string{"-y", versioned}, nil
	case "pypi":
		return "python", []string{"-m", pkg.Name}, nil
	case "uv":
		return "uvx", []string{versioned}, nil
	case "docker":
		return "docker", []string{"run", versioned}, nil
	default:
		return "", nil, &zerr.ValidationError{Reason: fmt.Sprintf("unsupported package registry %q", pkg.RegistryName)}
	}
}

// Client fetches ServerDetail descriptors from MCP_STORE_BASE_URL, rate
// limited so a misbehaving caller cannot hammer the store, and tags every
// outbound request with a correlation id for log correlation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a registry Client using cfg.StoreBaseURL (already
// resolved from MCP_STORE_BASE_URL or its documented default).
func NewClient(cfg zconfig.Config) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.StoreBaseURL, "/"),
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Fetch looks up pkg (an "@scope/name" package identifier) in the store.
func (c *Client) Fetch(ctx context.Context, pkg string) (ServerDetail, error) {
	if err := ValidatePackageIdentifier(pkg); err != nil {
		return ServerDetail{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return ServerDetail{}, &zerr.CancellationError{Reason: "rate limit wait cancelled"}
	}

	correlationID := uuid.NewString()
	url := fmt.Sprintf("%s/v0/servers/%s", c.baseURL, strings.TrimPrefix(pkg, "@"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ServerDetail{}, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)

	zlog.Debug("registry", "fetching %s (correlation=%s)", pkg, correlationID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ServerDetail{}, &zerr.TransientTransportError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ServerDetail{}, fmt.Errorf("read registry response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return ServerDetail{}, &zerr.TransientTransportError{Cause: fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var detail ServerDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return ServerDetail{}, fmt.Errorf("parse registry response: %w", err)
	}
	return detail, nil
}

// LoadFixture parses a YAML ServerDetail fixture; the live store speaks
// JSON, local fixtures are YAML.
func LoadFixture(data []byte) (ServerDetail, error) {
	var detail ServerDetail
	if err := yaml.Unmarshal(data, &detail); err != nil {
		return ServerDetail{}, fmt.Errorf("parse registry fixture: %w", err)
	}
	return detail, nil
}

// defaultFetchTimeout bounds a single store lookup.
const defaultFetchTimeout = 10 * time.Second

// FetchWithDefaultTimeout is a convenience wrapper applying
// defaultFetchTimeout when the caller's context carries no deadline.
func (c *Client) FetchWithDefaultTimeout(ctx context.Context, pkg string) (ServerDetail, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFetchTimeout)
		defer cancel()
	}
	return c.Fetch(ctx, pkg)
}
