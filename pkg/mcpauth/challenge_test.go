package mcpauth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChallenge(t *testing.T) {
	c := ParseChallenge(`Bearer realm="https://auth.example.com", scope="openid profile", resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`)
	require.NotNil(t, c)
	assert.Equal(t, "Bearer", c.Scheme)
	assert.Equal(t, "https://auth.example.com", c.Realm)
	assert.Equal(t, "https://auth.example.com", c.Issuer)
	assert.Equal(t, "openid profile", c.Scope)
	assert.Equal(t, "https://mcp.example.com/.well-known/oauth-protected-resource", c.ResourceMetadataURL)
	assert.True(t, c.IsOAuthChallenge())
}

func TestParseChallengeEmpty(t *testing.T) {
	assert.Nil(t, ParseChallenge(""))
	assert.Nil(t, ParseChallenge("   "))
}

func TestStatusFromError(t *testing.T) {
	assert.Equal(t, 401, StatusFromError(errors.New("unexpected status code: 401")))
	assert.Equal(t, 404, StatusFromError(errors.New("request failed with 404 Not Found")))
	assert.Equal(t, 0, StatusFromError(errors.New("connection reset")))
	assert.Equal(t, 0, StatusFromError(nil))
}

func TestIsUnauthorizedError(t *testing.T) {
	assert.True(t, IsUnauthorizedError(errors.New("got 401")))
	assert.True(t, IsUnauthorizedError(errors.New("Unauthorized")))
	assert.False(t, IsUnauthorizedError(errors.New("got 404")))
	assert.False(t, IsUnauthorizedError(nil))
}

func TestChallengeFromError(t *testing.T) {
	err := errors.New(`request failed: 401 Bearer realm="https://auth.example.com"`)
	c := ChallengeFromError(err)
	require.NotNil(t, c)
	assert.Equal(t, "https://auth.example.com", c.Realm)

	fallback := ChallengeFromError(errors.New("server returned 401"))
	require.NotNil(t, fallback)
	assert.Equal(t, "Bearer", fallback.Scheme)

	assert.Nil(t, ChallengeFromError(errors.New("server returned 500")))
}
