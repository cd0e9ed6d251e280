package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/snowgoose/snowgoose/internal/mcp"
	"github.com/snowgoose/snowgoose/internal/schema"
)

const anthropicVersion = "2023-06-01"

// Anthropic talks to the Messages API. It is the only tool-capable vendor.
type Anthropic struct {
	baseAdapter
}

func NewAnthropic(cfg schema.VendorConfig, model schema.ModelRecord, deps Deps) schema.VendorAdapter {
	return &Anthropic{baseAdapter: newBase(mustSpec("anthropic"), cfg, model, deps)}
}

func (p *Anthropic) SupportsMCP() bool { return true }

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// anthropicContent is the union of the content block shapes we send and
// receive.
type anthropicContent struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	Thinking  string           `json:"thinking,omitempty"`
	Signature string           `json:"signature,omitempty"`
	Data      string           `json:"data,omitempty"`
	Source    *anthropicSource `json:"source,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     any              `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	MaxTokens   int                 `json:"max_tokens"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	Thinking    *anthropicThinking  `json:"thinking,omitempty"`
	Tools       []mcp.AnthropicTool `json:"tools,omitempty"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (r anthropicResponse) usage() schema.Usage {
	return schema.Usage{InputTokens: r.Usage.InputTokens, OutputTokens: r.Usage.OutputTokens}
}

// GenerateResponse implements schema.VendorAdapter.
func (p *Anthropic) GenerateResponse(ctx context.Context, opts schema.GenerateOptions) (schema.ChatResponse, error) {
	user, err := p.currentUser(ctx)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	if err := p.checkVision(opts); err != nil {
		return schema.ChatResponse{}, err
	}

	resp, err := p.call(ctx, p.request(opts))
	if err != nil {
		return schema.ChatResponse{}, err
	}
	out := schema.ChatResponse{Role: schema.RoleAssistant, ResponseID: resp.ID, Usage: resp.usage()}
	for _, c := range resp.Content {
		out.Content = append(out.Content, p.toBlocks(c)...)
	}
	if len(out.Content) == 0 {
		return schema.ChatResponse{}, fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
	}
	p.recordUsage(ctx, user, out.Usage)
	return out, nil
}

// SendChat implements schema.VendorAdapter.
func (p *Anthropic) SendChat(ctx context.Context, chat *schema.Chat) (schema.ChatResponse, error) {
	opts, err := p.chatOptions(chat)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	return p.GenerateResponse(ctx, opts)
}

// SendMCPChat runs one tool-augmented turn: the model sees the server's
// tools, any tool calls it makes are executed through the bridge, and a
// single follow-up call produces the final answer. Tool and follow-up
// failures become inline text so the turn still returns.
func (p *Anthropic) SendMCPChat(ctx context.Context, chat *schema.Chat, tool schema.MCPTool) (schema.ChatResponse, error) {
	if p.deps.Tools == nil {
		return schema.ChatResponse{}, errors.New("anthropic tool use: no tool bridge configured")
	}
	user, err := p.currentUser(ctx)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	opts, err := p.chatOptions(chat)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	defs, err := p.deps.Tools.ListTools(ctx, tool)
	if err != nil {
		return schema.ChatResponse{}, fmt.Errorf("list tools of %q: %w", tool.Name, err)
	}

	req := p.request(opts)
	req.Tools = mcp.FormatAnthropicTools(defs)

	first, err := p.call(ctx, req)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	p.recordUsage(ctx, user, first.usage())

	out := schema.ChatResponse{Role: schema.RoleAssistant, ResponseID: first.ID, Usage: first.usage()}
	var results []anthropicContent
	for _, c := range first.Content {
		if c.Type != "tool_use" {
			out.Content = append(out.Content, p.toBlocks(c)...)
			continue
		}
		call := schema.ToolCall{ID: c.ID, Name: c.Name, Arguments: toolArgs(c.Input)}
		out.Content = append(out.Content, schema.TextBlock(fmt.Sprintf("Called tool %s(%s)", call.Name, call.ArgumentsJSON())))

		raw, err := p.deps.Tools.CallTool(ctx, tool, call.Name, call.Arguments)
		if err != nil {
			slog.Warn("MCP tool call failed", "tool", tool.Name, "name", call.Name, "err", err)
			out.Content = append(out.Content, schema.TextBlock(fmt.Sprintf("Error calling tool %s: %v", call.Name, err)))
			results = append(results, anthropicContent{Type: "tool_result", ToolUseID: call.ID, Content: err.Error(), IsError: true})
			continue
		}
		slog.Debug("MCP tool called", "tool", tool.Name, "name", call.Name)
		results = append(results, anthropicContent{Type: "tool_result", ToolUseID: call.ID, Content: mcp.NormalizeToolResult(raw)})
	}

	if len(results) == 0 {
		if len(out.Content) == 0 {
			return schema.ChatResponse{}, fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
		}
		return out, nil
	}

	req.Messages = append(req.Messages,
		anthropicMessage{Role: "assistant", Content: first.Content},
		anthropicMessage{Role: "user", Content: results},
	)
	follow, err := p.call(ctx, req)
	if err != nil {
		slog.Warn("tool follow-up call failed", "tool", tool.Name, "err", err)
		out.Content = append(out.Content, schema.TextBlock(fmt.Sprintf("Error getting a response after the tool call: %v", err)))
		return out, nil
	}
	p.recordUsage(ctx, user, follow.usage())

	out.ResponseID = follow.ID
	out.Usage = out.Usage.Add(follow.usage())
	for _, c := range follow.Content {
		if c.Type == "tool_use" {
			slog.Debug("ignoring follow-up tool call", "name", c.Name)
			continue
		}
		out.Content = append(out.Content, p.toBlocks(c)...)
	}
	return out, nil
}

// toolArgs accepts tool input as an object or, from some proxies, as a JSON
// string that may be truncated.
func toolArgs(input any) map[string]any {
	switch v := input.(type) {
	case map[string]any:
		return v
	case string:
		args, err := repairJSON(v)
		if err != nil {
			slog.Warn("unparseable tool arguments", "err", err)
		}
		return args
	}
	return map[string]any{}
}

func (p *Anthropic) call(ctx context.Context, req anthropicRequest) (anthropicResponse, error) {
	headers := map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
	var resp anthropicResponse
	if err := p.postJSON(ctx, p.baseURL+"/messages", headers, req, &resp); err != nil {
		return anthropicResponse{}, err
	}
	return resp, nil
}

func (p *Anthropic) request(opts schema.GenerateOptions) anthropicRequest {
	model := p.wireModel()
	system, messages := p.messages(opts)
	req := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokensOr(opts.MaxTokens),
		System:      system,
		Messages:    messages,
		Temperature: opts.Temperature,
	}
	if opts.ThinkingMode {
		budget := thinkingBudget(req.MaxTokens, opts.BudgetTokens)
		if budget < minThinkingBudget {
			budget = minThinkingBudget
		}
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + minThinkingBudget
		}
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		// Extended thinking requires the default temperature.
		req.Temperature = nil
	}
	return req
}

// messages converts the history. System messages are folded into the system
// prompt; the vision payload is attached to the newest user message; only
// thinking blocks produced by this vendor are replayed, with their signature.
func (p *Anthropic) messages(opts schema.GenerateOptions) (string, []anthropicMessage) {
	var system []string
	if opts.SystemPrompt != "" {
		system = append(system, opts.SystemPrompt)
	}
	visionAt := -1
	if opts.ImageData != "" || opts.VisionURL != "" {
		visionAt = opts.Messages.LastUserIndex()
	}

	out := make([]anthropicMessage, 0, len(opts.Messages))
	for i, m := range opts.Messages {
		blocks := m.Blocks()
		var content []anthropicContent
		switch m.Role {
		case schema.RoleSystem:
			if text := schema.GetVisibleText(blocks); text != "" {
				system = append(system, text)
			}
			continue

		case schema.RoleUser:
			if i == visionAt {
				if opts.ImageData != "" {
					mediaType, data := splitDataURL(opts.ImageData)
					content = append(content, anthropicContent{
						Type:   "image",
						Source: &anthropicSource{Type: "base64", MediaType: mediaType, Data: data},
					})
				}
				if opts.VisionURL != "" {
					content = append(content, anthropicContent{
						Type:   "image",
						Source: &anthropicSource{Type: "url", URL: opts.VisionURL},
					})
				}
			}
			if text := schema.GetVisibleText(blocks); text != "" {
				content = append(content, anthropicContent{Type: "text", Text: text})
			}

		case schema.RoleAssistant:
			for _, b := range blocks {
				switch b.Type {
				case schema.BlockThinking:
					if sig, ok := ownThinking(b, p.spec.Name, true); ok && sig != "" {
						content = append(content, anthropicContent{Type: "thinking", Thinking: b.Thinking, Signature: sig})
					}
				case schema.BlockRedactedThinking:
					content = append(content, anthropicContent{Type: "redacted_thinking", Data: b.Data})
				case schema.BlockText:
					if b.Text != "" {
						content = append(content, anthropicContent{Type: "text", Text: b.Text})
					}
				case schema.BlockImage:
					content = append(content, anthropicContent{Type: "text", Text: fmt.Sprintf("[image: %s]", b.URL)})
				}
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, anthropicMessage{Role: string(m.Role), Content: content})
	}
	return strings.Join(system, "\n\n"), out
}

func (p *Anthropic) toBlocks(c anthropicContent) []schema.ContentBlock {
	switch c.Type {
	case "text":
		if c.Text == "" {
			return nil
		}
		return []schema.ContentBlock{schema.TextBlock(c.Text)}
	case "thinking":
		return []schema.ContentBlock{schema.ThinkingBlock(c.Thinking, schema.SignThinking(p.spec.Name, c.Signature))}
	case "redacted_thinking":
		return []schema.ContentBlock{schema.RedactedThinkingBlock(c.Data)}
	}
	return nil
}
