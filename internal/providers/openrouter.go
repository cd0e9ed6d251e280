package providers

import (
	"context"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// OpenRouter is an OpenAI-compatible gateway. Reasoning is requested with an
// explicit token budget and returned in a separate field that is replayed on
// later assistant turns.
type OpenRouter struct {
	baseAdapter
}

func NewOpenRouter(cfg schema.VendorConfig, model schema.ModelRecord, deps Deps) schema.VendorAdapter {
	return &OpenRouter{baseAdapter: newBase(mustSpec("openrouter"), cfg, model, deps)}
}

func (p *OpenRouter) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
		"HTTP-Referer":  "https://snowgoose.app",
		"X-Title":       "Snowgoose",
	}
}

// GenerateResponse implements schema.VendorAdapter.
func (p *OpenRouter) GenerateResponse(ctx context.Context, opts schema.GenerateOptions) (schema.ChatResponse, error) {
	user, err := p.currentUser(ctx)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	if err := p.checkVision(opts); err != nil {
		return schema.ChatResponse{}, err
	}

	model := p.wireModel()
	maxTokens := maxTokensOr(opts.MaxTokens)
	req := ccRequest{
		Model:       model,
		Messages:    ccMessages(p.spec.Name, opts, true),
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		User:        user.ID,
	}
	if opts.ThinkingMode {
		req.Reasoning = &ccReasoning{MaxTokens: thinkingBudget(maxTokens, opts.BudgetTokens)}
	}
	if p.model.IsImageGeneration {
		req.Modalities = []string{"image", "text"}
	}

	resp, err := p.chatCompletion(ctx, req, p.headers())
	if err != nil {
		return schema.ChatResponse{}, err
	}
	p.recordUsage(ctx, user, resp.Usage)
	return resp, nil
}

// SendChat implements schema.VendorAdapter.
func (p *OpenRouter) SendChat(ctx context.Context, chat *schema.Chat) (schema.ChatResponse, error) {
	opts, err := p.chatOptions(chat)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	return p.GenerateResponse(ctx, opts)
}
