package mcpclient

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Block is the sum type of content block kinds a ToolResult can carry.
// Exactly one of Text, Image, ToolUse, or ToolResult is populated,
// discriminated by Type.
type Block struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	MediaType string `json:"mediaType,omitempty"`
	Base64    string `json:"base64,omitempty"`

	ToolUseID   string          `json:"toolUseId,omitempty"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolInput   json.RawMessage `json:"toolInput,omitempty"`
	ToolContent []Block         `json:"toolContent,omitempty"`
	IsError     bool            `json:"isError,omitempty"`
}

// TextBlock builds a {text} content block.
func TextBlock(text string) Block { return Block{Type: "text", Text: text} }

// ImageBlock builds an {image, mediaType, base64} content block.
func ImageBlock(mediaType, base64Data string) Block {
	return Block{Type: "image", MediaType: mediaType, Base64: base64Data}
}

// ToolResult is the normalized result of executing a tool: free-form
// content blocks plus an optional structured payload matching the tool's
// advertised output schema.
type ToolResult struct {
	Content           []Block         `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Tool is a callable exposed either by an MCP server (name
// "<serverId>_<originalName>") or registered locally as a built-in
// (arbitrary caller-supplied name).
type Tool struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Execute      func(ctx context.Context, input map[string]any) (ToolResult, error)
}

// compileInputValidator converts a tool's advertised JSON schema into a
// runtime validator for call inputs. A schema that fails to parse or
// resolve yields nil and the call proceeds unvalidated.
func compileInputValidator(raw json.RawMessage) func(input map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil
	}
	return func(input map[string]any) error {
		if input == nil {
			input = map[string]any{}
		}
		return resolved.Validate(input)
	}
}
