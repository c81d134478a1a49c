package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	flagCommand, flagArgs, flagEnv = "", nil, nil
	flagURL, flagHeader = "", nil
}

func TestBuildEndpointCommand(t *testing.T) {
	resetFlags()
	flagCommand = "npx"
	flagArgs = []string{"-y", "server"}
	flagEnv = []string{"FOO=bar"}

	ep, err := buildEndpoint("fs")
	require.NoError(t, err)
	require.NotNil(t, ep.Command)
	assert.Equal(t, "npx", ep.Command.Command)
	assert.Equal(t, "bar", ep.Command.Env["FOO"])
}

func TestBuildEndpointRemote(t *testing.T) {
	resetFlags()
	flagURL = "https://example.com/mcp"
	flagHeader = []string{"Authorization: Bearer x"}

	ep, err := buildEndpoint("remote")
	require.NoError(t, err)
	require.NotNil(t, ep.Remote)
	assert.Equal(t, "Bearer x", ep.Remote.Headers["Authorization"])
}

func TestBuildEndpointRejectsBothAndNeither(t *testing.T) {
	resetFlags()
	flagCommand, flagURL = "npx", "https://example.com"
	_, err := buildEndpoint("x")
	assert.Error(t, err)

	resetFlags()
	_, err = buildEndpoint("x")
	assert.Error(t, err)
}

func TestBuildEndpointRejectsMalformedEnv(t *testing.T) {
	resetFlags()
	flagCommand = "npx"
	flagEnv = []string{"NOTKEYVALUE"}
	_, err := buildEndpoint("x")
	assert.Error(t, err)
}
