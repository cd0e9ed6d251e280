package schema

import "encoding/json"

// ToolDefinition is a tool exposed by a tool server, in vendor-neutral form.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Schema returns InputSchema, or an empty object schema when unset.
func (d ToolDefinition) Schema() map[string]any {
	if d.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return d.InputSchema
}

// ToolCall is one tool invocation requested by a model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ArgumentsJSON renders the arguments as compact JSON.
func (tc ToolCall) ArgumentsJSON() string {
	if len(tc.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}
