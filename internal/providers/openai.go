package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// OpenAI talks to the Chat Completions, Images and Responses APIs.
type OpenAI struct {
	baseAdapter
}

var _ schema.StreamingAdapter = (*OpenAI)(nil)

func NewOpenAI(cfg schema.VendorConfig, model schema.ModelRecord, deps Deps) schema.VendorAdapter {
	return &OpenAI{baseAdapter: newBase(mustSpec("openai"), cfg, model, deps)}
}

func (p *OpenAI) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if p.cfg.OrganizationID != "" {
		h["OpenAI-Organization"] = p.cfg.OrganizationID
	}
	return h
}

// GenerateResponse implements schema.VendorAdapter.
func (p *OpenAI) GenerateResponse(ctx context.Context, opts schema.GenerateOptions) (schema.ChatResponse, error) {
	user, err := p.currentUser(ctx)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	if err := p.checkVision(opts); err != nil {
		return schema.ChatResponse{}, err
	}

	maxTokens := maxTokensOr(opts.MaxTokens)
	req := ccRequest{
		Model:       p.wireModel(),
		Messages:    ccMessages(p.spec.Name, opts, false),
		Temperature: opts.Temperature,
		User:        user.ID,
	}
	if opts.ThinkingMode {
		// Reasoning models reject max_tokens and temperature.
		req.MaxCompletionTokens = maxTokens
		req.ReasoningEffort = reasoningEffort(maxTokens, opts.BudgetTokens)
		req.Temperature = nil
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := p.chatCompletion(ctx, req, p.headers())
	if err != nil {
		return schema.ChatResponse{}, err
	}
	p.recordUsage(ctx, user, resp.Usage)
	return resp, nil
}

// SendChat implements schema.VendorAdapter.
func (p *OpenAI) SendChat(ctx context.Context, chat *schema.Chat) (schema.ChatResponse, error) {
	opts, err := p.chatOptions(chat)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	return p.GenerateResponse(ctx, opts)
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	User           string `json:"user,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// GenerateImage implements schema.VendorAdapter through the Images API and
// returns the URL of the first image.
func (p *OpenAI) GenerateImage(ctx context.Context, chat *schema.Chat) (string, error) {
	if !p.IsImageGenerationCapable() {
		return "", p.unsupported("image generation")
	}
	user, err := p.currentUser(ctx)
	if err != nil {
		return "", err
	}
	prompt := chat.Prompt()
	if prompt == "" {
		return "", fmt.Errorf("%w: empty image prompt", schema.ErrInvalidChat)
	}

	model := p.wireModel()
	req := imageRequest{Model: model, Prompt: prompt, N: 1, Size: "1024x1024", User: user.ID}
	if strings.HasPrefix(model, "dall-e") {
		req.ResponseFormat = "url"
	}

	var resp imageResponse
	if err := p.postJSON(ctx, p.baseURL+"/images/generations", p.headers(), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
	}

	img := resp.Data[0]
	url := img.URL
	if url == "" && img.B64JSON != "" {
		block, err := p.storeBase64(ctx, "img_"+uuid.NewString(), img.B64JSON, "image/png")
		if err != nil {
			return "", fmt.Errorf("store generated image: %w", err)
		}
		url = block.URL
	}
	if url == "" {
		return "", fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
	}
	p.recordUsage(ctx, user, schema.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens})
	return url, nil
}

// reasoningEffort maps a token budget onto OpenAI's effort levels.
func reasoningEffort(maxTokens, budget int) string {
	ratio := float64(thinkingBudget(maxTokens, budget)) / float64(maxTokens)
	switch {
	case ratio < 0.34:
		return "low"
	case ratio < 0.67:
		return "medium"
	default:
		return "high"
	}
}
