package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestEntryToEndpointCommand(t *testing.T) {
	e := ManifestEntry{ID: "fs", Command: "npx", Args: []string{"-y", "server"}, Env: map[string]string{"FOO": "bar"}}
	ep, err := e.ToEndpoint()
	require.NoError(t, err)
	require.NotNil(t, ep.Command)
	assert.Equal(t, "npx", ep.Command.Command)
	assert.Equal(t, []string{"-y", "server"}, ep.Command.Args)
	assert.Equal(t, "bar", ep.Command.Env["FOO"])
	assert.Nil(t, ep.Remote)
}

func TestManifestEntryToEndpointRemote(t *testing.T) {
	e := ManifestEntry{ID: "remote", URL: "https://example.com/mcp", Headers: map[string]string{"Authorization": "Bearer x"}}
	ep, err := e.ToEndpoint()
	require.NoError(t, err)
	require.NotNil(t, ep.Remote)
	assert.Equal(t, "https://example.com/mcp", ep.Remote.URL)
	assert.Nil(t, ep.Command)
}

func TestManifestEntryToEndpointRejectsBothOrNeither(t *testing.T) {
	_, err := (ManifestEntry{ID: "x", Command: "a", URL: "b"}).ToEndpoint()
	assert.Error(t, err)

	_, err = (ManifestEntry{ID: "x"}).ToEndpoint()
	assert.Error(t, err)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	content := "- id: fs\n  command: npx\n  args: [\"-y\", \"server\"]\n- id: remote\n  url: https://example.com/mcp\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fs", entries[0].ID)
	assert.Equal(t, "remote", entries[1].ID)
}
