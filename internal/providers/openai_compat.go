package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// Chat Completions wire types shared by OpenAI and OpenRouter.

type ccMessage struct {
	Role      string `json:"role"`
	Content   any    `json:"content"` // string or []ccPart
	Reasoning string `json:"reasoning,omitempty"`
}

type ccPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *ccImageURL `json:"image_url,omitempty"`
}

type ccImageURL struct {
	URL string `json:"url"`
}

type ccReasoning struct {
	MaxTokens int `json:"max_tokens,omitempty"`
}

type ccRequest struct {
	Model               string       `json:"model"`
	Messages            []ccMessage  `json:"messages"`
	MaxTokens           int          `json:"max_tokens,omitempty"`
	MaxCompletionTokens int          `json:"max_completion_tokens,omitempty"`
	Temperature         *float64     `json:"temperature,omitempty"`
	ReasoningEffort     string       `json:"reasoning_effort,omitempty"`
	Reasoning           *ccReasoning `json:"reasoning,omitempty"`
	Modalities          []string     `json:"modalities,omitempty"`
	User                string       `json:"user,omitempty"`
}

type ccResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content          *string `json:"content"`
			Reasoning        string  `json:"reasoning"`
			ReasoningContent string  `json:"reasoning_content"`
			Images           []struct {
				ImageURL ccImageURL `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ccMessages converts the history into Chat Completions messages. The vision
// payload of opts is attached to the newest user message only. When
// replayReasoning is set, the assistant's own thinking is sent back in the
// reasoning field.
func ccMessages(vendor string, opts schema.GenerateOptions, replayReasoning bool) []ccMessage {
	out := make([]ccMessage, 0, len(opts.Messages)+1)
	if opts.SystemPrompt != "" {
		out = append(out, ccMessage{Role: "system", Content: opts.SystemPrompt})
	}
	visionAt := -1
	if opts.ImageData != "" || opts.VisionURL != "" {
		visionAt = opts.Messages.LastUserIndex()
	}

	for i, m := range opts.Messages {
		blocks := m.Blocks()
		switch m.Role {
		case schema.RoleSystem:
			out = append(out, ccMessage{Role: "system", Content: schema.GetVisibleText(blocks)})

		case schema.RoleUser:
			text := schema.GetVisibleText(blocks)
			if i != visionAt {
				out = append(out, ccMessage{Role: "user", Content: text})
				continue
			}
			parts := []ccPart{{Type: "text", Text: text}}
			if opts.ImageData != "" {
				parts = append(parts, ccPart{Type: "image_url", ImageURL: &ccImageURL{URL: dataURL(opts.ImageData)}})
			}
			if opts.VisionURL != "" {
				parts = append(parts, ccPart{Type: "image_url", ImageURL: &ccImageURL{URL: opts.VisionURL}})
			}
			out = append(out, ccMessage{Role: "user", Content: parts})

		case schema.RoleAssistant:
			msg := ccMessage{Role: "assistant", Content: assistantText(blocks)}
			if replayReasoning {
				var reasoning []string
				for _, b := range blocks {
					if b.Type != schema.BlockThinking {
						continue
					}
					if _, ok := ownThinking(b, vendor, false); ok {
						reasoning = append(reasoning, b.Thinking)
					}
				}
				msg.Reasoning = strings.Join(reasoning, "")
			}
			out = append(out, msg)
		}
	}
	return out
}

// assistantText flattens an assistant turn for vendors that only accept
// text, keeping generated images as references.
func assistantText(blocks []schema.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case schema.BlockText:
			parts = append(parts, b.Text)
		case schema.BlockImage:
			parts = append(parts, fmt.Sprintf("[image: %s]", b.URL))
		}
	}
	return strings.Join(parts, "\n")
}

// ccResult converts a Chat Completions answer into blocks. Inline images
// (OpenRouter image models) are persisted through the image store.
func (b *baseAdapter) ccResult(ctx context.Context, resp ccResponse) (schema.ChatResponse, error) {
	out := schema.ChatResponse{
		Role:       schema.RoleAssistant,
		ResponseID: resp.ID,
		Usage:      schema.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	if len(resp.Choices) == 0 {
		return out, fmt.Errorf("%s: %w", b.spec.Label(), schema.ErrEmptyResponse)
	}
	msg := resp.Choices[0].Message

	reasoning := msg.Reasoning
	if reasoning == "" {
		reasoning = msg.ReasoningContent
	}
	if reasoning != "" {
		out.Content = append(out.Content, schema.ThinkingBlock(reasoning, schema.SignThinking(b.spec.Name, "")))
	}
	if msg.Content != nil && *msg.Content != "" {
		out.Content = append(out.Content, schema.TextBlock(*msg.Content))
	}
	for _, img := range msg.Images {
		block, err := b.storeDataURL(ctx, img.ImageURL.URL)
		if err != nil {
			slog.Warn("store generated image failed", "vendor", b.spec.Name, "err", err)
			continue
		}
		out.Content = append(out.Content, block)
	}

	if len(schema.GetVisibleText(out.Content)) == 0 && !hasImage(out.Content) {
		return out, fmt.Errorf("%s: %w", b.spec.Label(), schema.ErrEmptyResponse)
	}
	return out, nil
}

// storeDataURL persists a base64 data URL (or passes a remote URL through)
// and returns an image block.
func (b *baseAdapter) storeDataURL(ctx context.Context, u string) (schema.ContentBlock, error) {
	id := "img_" + uuid.NewString()
	if !strings.HasPrefix(u, "data:") {
		return schema.ImageBlock(u, id), nil
	}
	mimeType, payload := splitDataURL(u)
	return b.storeBase64(ctx, id, payload, mimeType)
}

func (b *baseAdapter) storeBase64(ctx context.Context, id, payload, mimeType string) (schema.ContentBlock, error) {
	if b.deps.Images == nil {
		return schema.ContentBlock{}, fmt.Errorf("no image store configured")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return schema.ContentBlock{}, fmt.Errorf("decode image %s: %w", id, err)
	}
	url, err := b.deps.Images.SaveImage(ctx, id, data, mimeType)
	if err != nil {
		return schema.ContentBlock{}, err
	}
	return schema.ImageBlock(url, id), nil
}

func hasImage(blocks []schema.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == schema.BlockImage {
			return true
		}
	}
	return false
}

// chatCompletion runs one non-streaming Chat Completions call.
func (b *baseAdapter) chatCompletion(ctx context.Context, req ccRequest, headers map[string]string) (schema.ChatResponse, error) {
	var resp ccResponse
	if err := b.postJSON(ctx, b.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return schema.ChatResponse{}, err
	}
	return b.ccResult(ctx, resp)
}
