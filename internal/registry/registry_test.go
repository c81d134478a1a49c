package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zypher/internal/zconfig"
	"zypher/internal/zerr"
)

func TestValidatePackageIdentifier(t *testing.T) {
	require.NoError(t, ValidatePackageIdentifier("@scope/name"))

	var validation *zerr.ValidationError
	assert.ErrorAs(t, ValidatePackageIdentifier("not-scoped"), &validation)
	assert.ErrorAs(t, ValidatePackageIdentifier("@missing-name/"), &validation)
}

func TestServerIDForPackage(t *testing.T) {
	assert.Equal(t, "acme-search", ServerIDForPackage("@acme/search"))
	assert.Equal(t, "acme-my-tool", ServerIDForPackage("@acme/my.tool"))
	// Deterministic: re-applying yields the identical id.
	assert.Equal(t, ServerIDForPackage("@a/b"), ServerIDForPackage("@a/b"))
}

func TestToEndpointPrefersRemote(t *testing.T) {
	detail := ServerDetail{
		Name: "example",
		Remotes: []RemoteDescriptor{
			{URL: "https://mcp.example.com", Headers: []NameValue{{Name: "X-Api-Key", Value: "secret"}}},
		},
		Packages: []PackageDescriptor{{RegistryName: "npm", Name: "example-mcp"}},
	}

	ep, err := detail.ToEndpoint("example")
	require.NoError(t, err)
	require.NotNil(t, ep.Remote)
	assert.Equal(t, "https://mcp.example.com", ep.Remote.URL)
	assert.Equal(t, "secret", ep.Remote.Headers["X-Api-Key"])
	assert.Nil(t, ep.Command)
}

func TestToEndpointNpmPackage(t *testing.T) {
	detail := ServerDetail{
		Name: "example",
		Packages: []PackageDescriptor{{
			RegistryName:         "npm",
			Name:                 "example-mcp",
			Version:              "1.2.3",
			RuntimeArguments:     []NameValue{{Value: "--verbose"}},
			PackageArguments:     []NameValue{{Value: "--port=8080"}},
			EnvironmentVariables: []NameValue{{Name: "API_KEY", Value: "abc"}},
		}},
	}

	ep, err := detail.ToEndpoint("example")
	require.NoError(t, err)
	require.NotNil(t, ep.Command)
	assert.Equal(t, "npx", ep.Command.Command)
	assert.Equal(t, []string{"-y", "example-mcp@1.2.3", "--verbose", "--port=8080"}, ep.Command.Args)
	assert.Equal(t, "abc", ep.Command.Env["API_KEY"])
}

func TestToEndpointEachRegistryKind(t *testing.T) {
	cases := []struct {
		registry string
		wantCmd  string
	}{
		{"npm", "npx"},
		{"pypi", "python"},
		{"uv", "uvx"},
		{"docker", "docker"},
	}
	for _, tc := range cases {
		detail := ServerDetail{Packages: []PackageDescriptor{{RegistryName: tc.registry, Name: "pkg"}}}
		ep, err := detail.ToEndpoint("id")
		require.NoError(t, err)
		assert.Equal(t, tc.wantCmd, ep.Command.Command)
	}
}

func TestToEndpointNoConfigurationFails(t *testing.T) {
	_, err := ServerDetail{}.ToEndpoint("id")
	var validation *zerr.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestClientFetchSendsCorrelationID(t *testing.T) {
	var gotCorrelationID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelationID = r.Header.Get("X-Correlation-ID")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ServerDetail{Name: "example", Remotes: []RemoteDescriptor{{URL: "https://x"}}})
	}))
	defer srv.Close()

	client := NewClient(zconfig.Config{StoreBaseURL: srv.URL})
	detail, err := client.Fetch(context.Background(), "@scope/name")
	require.NoError(t, err)
	assert.Equal(t, "example", detail.Name)
	assert.NotEmpty(t, gotCorrelationID)
}

func TestLoadFixtureParsesYAML(t *testing.T) {
	yamlDoc := []byte(`
name: example
remotes:
  - url: https://mcp.example.com
    headers:
      - name: X-Api-Key
        value: secret
`)
	detail, err := LoadFixture(yamlDoc)
	require.NoError(t, err)
	assert.Equal(t, "example", detail.Name)
	require.Len(t, detail.Remotes, 1)
	assert.Equal(t, "https://mcp.example.com", detail.Remotes[0].URL)
}
