package mcpauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStorageClientInformationRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	hash := ServerHash("https://example.com")

	_, ok, err := s.LoadClientInformation(hash)
	require.NoError(t, err)
	assert.False(t, ok)

	info := &ClientInformation{ClientID: "abc", ClientSecret: "shh"}
	require.NoError(t, s.SaveClientInformation(hash, info))

	loaded, ok, err := s.LoadClientInformation(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, info, loaded)
}

func TestStorageTokensExpiryMargin(t *testing.T) {
	s := newTestStorage(t)
	hash := ServerHash("https://example.com")

	require.NoError(t, s.SaveTokens(hash, &Tokens{AccessToken: "tok", ExpiresIn: 60}))

	loaded, ok, err := s.LoadTokens(hash, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.ExpiresAt.Before(time.Now().Add(31*time.Second)))
}

func TestStorageTokensExpiredHiddenUnlessIgnored(t *testing.T) {
	s := newTestStorage(t)
	hash := ServerHash("https://example.com")

	require.NoError(t, s.SaveTokens(hash, &Tokens{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Hour)}))

	_, ok, err := s.LoadTokens(hash, false)
	require.NoError(t, err)
	assert.False(t, ok, "expired tokens are hidden by default")

	loaded, ok, err := s.LoadTokens(hash, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", loaded.AccessToken)
}

func TestStorageCodeVerifierAndState(t *testing.T) {
	s := newTestStorage(t)
	hash := ServerHash("https://example.com")

	require.NoError(t, s.SaveCodeVerifier(hash, "verifier-value"))
	v, ok, err := s.LoadCodeVerifier(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "verifier-value", v)

	require.NoError(t, s.SaveState(hash, "state-value"))
	state, ok, err := s.LoadState(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "state-value", state)

	require.NoError(t, s.DeleteState(hash))
	_, ok, err = s.LoadState(hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorageClearAll(t *testing.T) {
	s := newTestStorage(t)
	hash := ServerHash("https://example.com")

	require.NoError(t, s.SaveClientInformation(hash, &ClientInformation{ClientID: "abc"}))
	require.NoError(t, s.SaveTokens(hash, &Tokens{AccessToken: "tok"}))
	require.NoError(t, s.SaveCodeVerifier(hash, "v"))
	require.NoError(t, s.SaveState(hash, "s"))

	require.NoError(t, s.ClearAll(hash))

	_, ok, _ := s.LoadClientInformation(hash)
	assert.False(t, ok)
	_, ok, _ = s.LoadTokens(hash, true)
	assert.False(t, ok)
	_, ok, _ = s.LoadCodeVerifier(hash)
	assert.False(t, ok)
	_, ok, _ = s.LoadState(hash)
	assert.False(t, ok)
}
