package mcpclient

import (
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToToolResultMapsContentBlocks(t *testing.T) {
	result := toToolResult(&gomcp.CallToolResult{
		Content: []gomcp.Content{
			gomcp.TextContent{Type: "text", Text: "hi"},
			gomcp.ImageContent{Type: "image", MIMEType: "image/png", Data: "aGk="},
		},
		IsError: true,
	})

	require.Len(t, result.Content, 2)
	assert.Equal(t, "hi", result.Content[0].Text)
	assert.Equal(t, "image/png", result.Content[1].MediaType)
	assert.Equal(t, "aGk=", result.Content[1].Base64)
	assert.True(t, result.IsError)
}

func TestToToolResultCarriesStructuredContent(t *testing.T) {
	result := toToolResult(&gomcp.CallToolResult{
		StructuredContent: map[string]any{"count": 3},
	})
	assert.JSONEq(t, `{"count": 3}`, string(result.StructuredContent))
}

func TestToToolResultEmptyContentPassesThrough(t *testing.T) {
	result := toToolResult(&gomcp.CallToolResult{})
	assert.Empty(t, result.Content)
	assert.Empty(t, result.StructuredContent)
	assert.False(t, result.IsError)
}
