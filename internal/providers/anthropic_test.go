package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowgoose/snowgoose/internal/mcp"
	"github.com/snowgoose/snowgoose/internal/schema"
)

func newTestAnthropic(t *testing.T, model schema.ModelRecord, deps Deps, responses ...string) (*Anthropic, *vendorStub) {
	stub, srv := newVendorStub(t, responses...)
	if model.APIName == "" {
		model.APIName = "claude-sonnet-4"
	}
	a := NewAnthropic(schema.VendorConfig{APIKey: "sk-ant", BaseURL: srv.URL}, model, deps)
	return a.(*Anthropic), stub
}

func TestAnthropic_ThinkingRoundTrip(t *testing.T) {
	const thought = "The user greets me.\n  Reply politely, keep \"quotes\" & spacing."
	a, stub := newTestAnthropic(t, schema.ModelRecord{IsThinking: true}, testDeps(&memLedger{}),
		`{"id":"msg_1","content":[
			{"type":"thinking","thinking":"The user greets me.\n  Reply politely, keep \"quotes\" & spacing.","signature":"sig-1"},
			{"type":"text","text":"Hello!"}
		],"usage":{"input_tokens":10,"output_tokens":20}}`,
		`{"id":"msg_2","content":[{"type":"text","text":"Fine."}],"usage":{"input_tokens":30,"output_tokens":5}}`,
	)

	chat := userChat("hi")
	chat.ThinkingMode = true
	chat.MaxTokens = 8000
	resp, err := a.SendChat(context.Background(), chat)
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, schema.ThinkingBlock(thought, "anthropic:sig-1"), resp.Content[0])
	assert.Equal(t, schema.TextBlock("Hello!"), resp.Content[1])

	first := stub.body(0)
	assert.Equal(t, map[string]any{"type": "enabled", "budget_tokens": float64(4000)}, first["thinking"])
	assert.NotContains(t, first, "temperature")
	assert.Equal(t, "sk-ant", stub.headers[0].Get("x-api-key"))
	assert.Equal(t, anthropicVersion, stub.headers[0].Get("anthropic-version"))

	// A foreign thinking block must not be replayed; our own goes back
	// byte-identical with the vendor prefix stripped.
	history := schema.History{
		schema.NewUserMessage("hi"),
		schema.NewAssistantMessage(append([]schema.ContentBlock{
			schema.ThinkingBlock("foreign", "openrouter:"),
		}, resp.Content...)...),
		schema.NewUserMessage("how are you?"),
	}
	_, err = a.SendChat(context.Background(), &schema.Chat{ResponseHistory: history, ThinkingMode: true, MaxTokens: 8000})
	require.NoError(t, err)

	msgs := messagesOf(t, stub.body(1))
	require.Len(t, msgs, 3)
	assistant := msgs[1]["content"].([]any)
	require.Len(t, assistant, 2)
	assert.Equal(t, map[string]any{"type": "thinking", "thinking": thought, "signature": "sig-1"}, assistant[0])
	assert.Equal(t, map[string]any{"type": "text", "text": "Hello!"}, assistant[1])
}

func TestAnthropic_ThinkingBudgetRaisesMaxTokens(t *testing.T) {
	a, _ := newTestAnthropic(t, schema.ModelRecord{IsThinking: true}, Deps{})
	req := a.request(schema.GenerateOptions{
		Messages:     schema.History{schema.NewUserMessage("x")},
		MaxTokens:    1000,
		ThinkingMode: true,
	})
	require.NotNil(t, req.Thinking)
	assert.Equal(t, minThinkingBudget, req.Thinking.BudgetTokens)
	assert.Greater(t, req.MaxTokens, req.Thinking.BudgetTokens)
}

func TestAnthropic_VisionAttachesToLastUserMessageOnly(t *testing.T) {
	a, stub := newTestAnthropic(t, schema.ModelRecord{IsVision: true}, testDeps(&memLedger{}),
		`{"id":"msg_1","content":[{"type":"text","text":"A cat."}],"usage":{"input_tokens":1,"output_tokens":1}}`,
	)

	chat := &schema.Chat{
		ResponseHistory: schema.History{
			schema.NewSystemMessage("Be brief."),
			schema.NewUserMessage("first"),
			schema.NewAssistantMessage(schema.TextBlock("ok")),
			schema.NewUserMessage("what is this?"),
		},
		SystemPrompt: "You are helpful.",
		ImageData:    "data:image/jpeg;base64,AAAA",
	}
	_, err := a.SendChat(context.Background(), chat)
	require.NoError(t, err)
	assert.Empty(t, chat.ImageData)

	body := stub.body(0)
	assert.Equal(t, "You are helpful.\n\nBe brief.", body["system"])
	msgs := messagesOf(t, body)
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[0]["content"], 1)

	last := msgs[2]["content"].([]any)
	require.Len(t, last, 2)
	assert.Equal(t, map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "base64", "media_type": "image/jpeg", "data": "AAAA"},
	}, last[0])
	assert.Equal(t, "what is this?", last[1].(map[string]any)["text"])
}

func TestAnthropic_EmptyResponse(t *testing.T) {
	ledger := &memLedger{}
	a, _ := newTestAnthropic(t, schema.ModelRecord{InputTokenCost: 3, OutputTokenCost: 15}, testDeps(ledger),
		`{"id":"msg_1","content":[],"usage":{"input_tokens":5,"output_tokens":0}}`,
	)
	_, err := a.SendChat(context.Background(), userChat("hi"))
	assert.ErrorIs(t, err, schema.ErrEmptyResponse)
}

func TestAnthropic_RecordsCost(t *testing.T) {
	ledger := &memLedger{}
	a, _ := newTestAnthropic(t, schema.ModelRecord{InputTokenCost: 3, OutputTokenCost: 15}, testDeps(ledger),
		`{"id":"msg_1","content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":1000000,"output_tokens":100000}}`,
	)
	resp, err := a.SendChat(context.Background(), userChat("hi"))
	require.NoError(t, err)
	assert.Equal(t, schema.Usage{InputTokens: 1000000, OutputTokens: 100000}, resp.Usage)
	assert.InDelta(t, 4.5, ledger.totals[testUser.ID], 1e-9)
}

func TestAnthropic_SendsRecordModel(t *testing.T) {
	ledger := &memLedger{}
	a, stub := newTestAnthropic(t, schema.ModelRecord{APIName: "claude-haiku", InputTokenCost: 0.25}, testDeps(ledger),
		`{"id":"msg_1","content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":1000000,"output_tokens":0}}`,
	)
	chat := userChat("hi")
	chat.Model = "claude-opus-4"
	_, err := a.SendChat(context.Background(), chat)
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku", stub.body(0)["model"])
	assert.InDelta(t, 0.25, ledger.totals[testUser.ID], 1e-9)
}

type toolConn struct {
	calls  []map[string]any
	result string
	err    error
}

func (c *toolConn) ListTools(context.Context) ([]schema.ToolDefinition, error) {
	return []schema.ToolDefinition{{
		Name:        "search",
		Description: "Search the web",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
	}}, nil
}

func (c *toolConn) CallTool(_ context.Context, _ string, args map[string]any) (json.RawMessage, error) {
	c.calls = append(c.calls, args)
	if c.err != nil {
		return nil, c.err
	}
	return json.RawMessage(c.result), nil
}

func (c *toolConn) ListResources(context.Context) ([]mcp.Resource, error) { return nil, nil }
func (c *toolConn) ReadResource(context.Context, string) (json.RawMessage, error) {
	return nil, nil
}
func (c *toolConn) ListPrompts(context.Context) ([]mcp.Prompt, error) { return nil, nil }
func (c *toolConn) GetPrompt(context.Context, string, map[string]string) (json.RawMessage, error) {
	return nil, nil
}
func (c *toolConn) Close() error { return nil }

func toolDeps(ledger *memLedger, conn *toolConn) Deps {
	deps := testDeps(ledger)
	deps.Tools = mcp.NewBridge(func(context.Context, schema.MCPTool) (mcp.Conn, error) { return conn, nil })
	return deps
}

const toolUseResponse = `{"id":"msg_1","content":[
	{"type":"text","text":"Let me check."},
	{"type":"tool_use","id":"tu_1","name":"search","input":{"query":"weather"}}
],"stop_reason":"tool_use","usage":{"input_tokens":100,"output_tokens":10}}`

func TestAnthropic_SendMCPChat(t *testing.T) {
	ledger := &memLedger{}
	conn := &toolConn{result: `{"content":"72F sunny"}`}
	a, stub := newTestAnthropic(t, schema.ModelRecord{InputTokenCost: 1, OutputTokenCost: 1}, toolDeps(ledger, conn),
		toolUseResponse,
		`{"id":"msg_2","content":[
			{"type":"text","text":"It is 72F and sunny."},
			{"type":"tool_use","id":"tu_2","name":"search","input":{"query":"more"}}
		],"usage":{"input_tokens":150,"output_tokens":20}}`,
	)
	tool := schema.MCPTool{ID: 7, Name: "web", Path: "search.js"}

	resp, err := a.SendMCPChat(context.Background(), userChat("weather?"), tool)
	require.NoError(t, err)

	assert.Equal(t, []schema.ContentBlock{
		schema.TextBlock("Let me check."),
		schema.TextBlock(`Called tool search({"query":"weather"})`),
		schema.TextBlock("It is 72F and sunny."),
	}, resp.Content)
	assert.Equal(t, "msg_2", resp.ResponseID)
	assert.Equal(t, schema.Usage{InputTokens: 250, OutputTokens: 30}, resp.Usage)
	assert.Equal(t, []map[string]any{{"query": "weather"}}, conn.calls)
	assert.Equal(t, 2, ledger.calls)
	assert.Equal(t, 2, stub.count())

	tools := stub.body(0)["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].(map[string]any)["name"])
	assert.Contains(t, tools[0], "input_schema")

	msgs := messagesOf(t, stub.body(1))
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1]["role"])
	result := msgs[2]["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "tu_1", result["tool_use_id"])
	assert.Equal(t, "72F sunny", result["content"])
	assert.NotContains(t, result, "is_error")
}

func TestAnthropic_SendMCPChatToolError(t *testing.T) {
	conn := &toolConn{err: errors.New("boom")}
	a, stub := newTestAnthropic(t, schema.ModelRecord{}, toolDeps(&memLedger{}, conn),
		toolUseResponse,
		`{"id":"msg_2","content":[{"type":"text","text":"The search failed."}],"usage":{"input_tokens":1,"output_tokens":1}}`,
	)

	resp, err := a.SendMCPChat(context.Background(), userChat("weather?"), schema.MCPTool{ID: 7, Name: "web"})
	require.NoError(t, err)
	require.Len(t, resp.Content, 4)
	assert.Contains(t, resp.Content[2].Text, "Error calling tool search")
	assert.Equal(t, "The search failed.", resp.Content[3].Text)

	result := messagesOf(t, stub.body(1))[2]["content"].([]any)[0].(map[string]any)
	assert.Equal(t, true, result["is_error"])
	assert.Contains(t, result["content"], "boom")
}

func TestAnthropic_SendMCPChatFollowUpFailure(t *testing.T) {
	conn := &toolConn{result: `"72F sunny"`}
	a, _ := newTestAnthropic(t, schema.ModelRecord{}, toolDeps(&memLedger{}, conn), toolUseResponse)

	resp, err := a.SendMCPChat(context.Background(), userChat("weather?"), schema.MCPTool{ID: 7, Name: "web"})
	require.NoError(t, err)
	require.Len(t, resp.Content, 3)
	assert.Contains(t, resp.Content[2].Text, "Error getting a response after the tool call")
}

func TestToolArgs(t *testing.T) {
	assert.Equal(t, map[string]any{"q": "x"}, toolArgs(map[string]any{"q": "x"}))
	assert.Equal(t, map[string]any{"q": "x"}, toolArgs(`{"q":"x"`))
	assert.Empty(t, toolArgs(nil))
}
