package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// Google talks to the Gemini generateContent API.
type Google struct {
	baseAdapter
}

func NewGoogle(cfg schema.VendorConfig, model schema.ModelRecord, deps Deps) schema.VendorAdapter {
	return &Google{baseAdapter: newBase(mustSpec("google"), cfg, model, deps)}
}

type gPart struct {
	Text             string       `json:"text,omitempty"`
	Thought          bool         `json:"thought,omitempty"`
	ThoughtSignature string       `json:"thoughtSignature,omitempty"`
	InlineData       *gInlineData `json:"inlineData,omitempty"`
	FileData         *gFileData   `json:"fileData,omitempty"`
}

type gInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type gFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type gContent struct {
	Role  string  `json:"role,omitempty"`
	Parts []gPart `json:"parts"`
}

type gThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type gGenerationConfig struct {
	MaxOutputTokens    int              `json:"maxOutputTokens,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	ThinkingConfig     *gThinkingConfig `json:"thinkingConfig,omitempty"`
	ResponseModalities []string         `json:"responseModalities,omitempty"`
}

type gRequest struct {
	Contents          []gContent         `json:"contents"`
	SystemInstruction *gContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *gGenerationConfig `json:"generationConfig,omitempty"`
}

type gResponse struct {
	ResponseID string `json:"responseId"`
	Candidates []struct {
		Content      gContent `json:"content"`
		FinishReason string   `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata"`
}

// usage counts thinking tokens as output; they are billed as such.
func (r gResponse) usage() schema.Usage {
	return schema.Usage{
		InputTokens:  r.UsageMetadata.PromptTokenCount,
		OutputTokens: r.UsageMetadata.CandidatesTokenCount + r.UsageMetadata.ThoughtsTokenCount,
	}
}

// GenerateResponse implements schema.VendorAdapter.
func (p *Google) GenerateResponse(ctx context.Context, opts schema.GenerateOptions) (schema.ChatResponse, error) {
	user, err := p.currentUser(ctx)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	if err := p.checkVision(opts); err != nil {
		return schema.ChatResponse{}, err
	}

	req := p.request(opts)
	resp, err := p.generate(ctx, req)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	out, err := p.result(ctx, resp)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	p.recordUsage(ctx, user, out.Usage)
	return out, nil
}

// SendChat implements schema.VendorAdapter.
func (p *Google) SendChat(ctx context.Context, chat *schema.Chat) (schema.ChatResponse, error) {
	opts, err := p.chatOptions(chat)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	return p.GenerateResponse(ctx, opts)
}

// GenerateImage asks an image-capable Gemini model for an image response and
// returns the stored URL of the first image part.
func (p *Google) GenerateImage(ctx context.Context, chat *schema.Chat) (string, error) {
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

	req := gRequest{
		Contents:         []gContent{{Role: "user", Parts: []gPart{{Text: prompt}}}},
		GenerationConfig: &gGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}
	resp, err := p.generate(ctx, req)
	if err != nil {
		return "", err
	}
	out, err := p.result(ctx, resp)
	if err != nil {
		return "", err
	}
	p.recordUsage(ctx, user, out.Usage)
	for _, b := range out.Content {
		if b.Type == schema.BlockImage {
			return b.URL, nil
		}
	}
	return "", fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
}

func (p *Google) generate(ctx context.Context, req gRequest) (gResponse, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, p.wireModel())
	var resp gResponse
	if err := p.postJSON(ctx, url, map[string]string{"x-goog-api-key": p.cfg.APIKey}, req, &resp); err != nil {
		return gResponse{}, err
	}
	return resp, nil
}

func (p *Google) request(opts schema.GenerateOptions) gRequest {
	req := gRequest{Contents: p.contents(opts)}
	if opts.SystemPrompt != "" {
		req.SystemInstruction = &gContent{Parts: []gPart{{Text: opts.SystemPrompt}}}
	}

	maxTokens := maxTokensOr(opts.MaxTokens)
	cfg := &gGenerationConfig{MaxOutputTokens: maxTokens, Temperature: opts.Temperature}
	if opts.ThinkingMode {
		cfg.ThinkingConfig = &gThinkingConfig{
			ThinkingBudget:  thinkingBudget(maxTokens, opts.BudgetTokens),
			IncludeThoughts: true,
		}
	}
	req.GenerationConfig = cfg
	return req
}

// contents converts the history into Gemini turns. Assistant becomes
// "model"; own thought parts are replayed with their signature.
func (p *Google) contents(opts schema.GenerateOptions) []gContent {
	visionAt := -1
	if opts.ImageData != "" || opts.VisionURL != "" {
		visionAt = opts.Messages.LastUserIndex()
	}

	out := make([]gContent, 0, len(opts.Messages))
	for i, m := range opts.Messages {
		blocks := m.Blocks()
		var c gContent
		switch m.Role {
		case schema.RoleUser, schema.RoleSystem:
			c.Role = "user"
			if text := schema.GetVisibleText(blocks); text != "" {
				c.Parts = append(c.Parts, gPart{Text: text})
			}
			if i == visionAt {
				if opts.ImageData != "" {
					mimeType, data := splitDataURL(opts.ImageData)
					c.Parts = append(c.Parts, gPart{InlineData: &gInlineData{MimeType: mimeType, Data: data}})
				}
				if opts.VisionURL != "" {
					c.Parts = append(c.Parts, gPart{FileData: &gFileData{FileURI: opts.VisionURL}})
				}
			}
		case schema.RoleAssistant:
			c.Role = "model"
			for _, b := range blocks {
				switch b.Type {
				case schema.BlockThinking:
					if sig, ok := ownThinking(b, p.spec.Name, false); ok {
						c.Parts = append(c.Parts, gPart{Text: b.Thinking, Thought: true, ThoughtSignature: sig})
					}
				case schema.BlockText:
					if b.Text != "" {
						c.Parts = append(c.Parts, gPart{Text: b.Text})
					}
				case schema.BlockImage:
					c.Parts = append(c.Parts, gPart{Text: fmt.Sprintf("[image: %s]", b.URL)})
				}
			}
		}
		if len(c.Parts) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (p *Google) result(ctx context.Context, resp gResponse) (schema.ChatResponse, error) {
	out := schema.ChatResponse{Role: schema.RoleAssistant, ResponseID: resp.ResponseID, Usage: resp.usage()}
	if len(resp.Candidates) == 0 {
		return out, fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Thought:
			out.Content = append(out.Content, schema.ThinkingBlock(part.Text, schema.SignThinking(p.spec.Name, part.ThoughtSignature)))
		case part.InlineData != nil:
			block, err := p.storeBase64(ctx, "img_"+uuid.NewString(), part.InlineData.Data, part.InlineData.MimeType)
			if err != nil {
				slog.Warn("store generated image failed", "vendor", p.spec.Name, "err", err)
				continue
			}
			out.Content = append(out.Content, block)
		case part.Text != "":
			out.Content = append(out.Content, schema.TextBlock(part.Text))
		}
	}
	if schema.GetVisibleText(out.Content) == "" && !hasImage(out.Content) {
		return out, fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
	}
	return out, nil
}
