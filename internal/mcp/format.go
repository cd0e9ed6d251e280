package mcp

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// AnthropicTool is a tool definition in the Anthropic Messages API shape.
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// FormatAnthropicTools converts server tool definitions to the Anthropic
// tools parameter.
func FormatAnthropicTools(defs []schema.ToolDefinition) []AnthropicTool {
	out := make([]AnthropicTool, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			continue
		}
		out = append(out, AnthropicTool{Name: d.Name, Description: d.Description, InputSchema: d.Schema()})
	}
	return out
}

// NormalizeToolResult renders a tools/call result as text. A string, or a
// content field holding a string, is returned as is; a list of text blocks
// is joined with newlines; anything else is returned as JSON text.
func NormalizeToolResult(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var envelope struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Content) == 0 {
		return compact(raw)
	}
	if err := json.Unmarshal(envelope.Content, &s); err == nil {
		return s
	}

	var blocks []map[string]any
	if err := json.Unmarshal(envelope.Content, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			text, ok := b["text"].(string)
			if !ok {
				return compact(envelope.Content)
			}
			parts = append(parts, text)
		}
		return strings.Join(parts, "\n")
	}
	return compact(envelope.Content)
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
