package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// OpenAI Responses API streaming. Supports conversation continuation through
// previous_response_id, web search, and the image generation tool with
// partial previews.

type responsesReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type responsesRequest struct {
	Model              string              `json:"model"`
	Input              []any               `json:"input"`
	Instructions       string              `json:"instructions,omitempty"`
	PreviousResponseID string              `json:"previous_response_id,omitempty"`
	MaxOutputTokens    int                 `json:"max_output_tokens,omitempty"`
	Temperature        *float64            `json:"temperature,omitempty"`
	Reasoning          *responsesReasoning `json:"reasoning,omitempty"`
	Tools              []map[string]any    `json:"tools,omitempty"`
	Stream             bool                `json:"stream"`
	Store              bool                `json:"store"`
	User               string              `json:"user,omitempty"`
}

type responsesEvent struct {
	Type            string `json:"type"`
	Delta           string `json:"delta"`
	ItemID          string `json:"item_id"`
	PartialImageB64 string `json:"partial_image_b64"`
	Message         string `json:"message"`
	Item            struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Result string `json:"result"`
	} `json:"item"`
	Response struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Usage  struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

// StreamChat implements schema.StreamingAdapter. Chunks are delivered to sink
// as they arrive; the caller emits the closing stream-complete chunk.
func (p *OpenAI) StreamChat(ctx context.Context, chat *schema.Chat, sink schema.ChunkSink) error {
	user, err := p.currentUser(ctx)
	if err != nil {
		return err
	}
	previous := chat.PreviousResponseID
	opts, err := p.chatOptions(chat)
	if err != nil {
		return err
	}

	req := responsesRequest{
		Model:              p.wireModel(),
		Input:              responsesInput(opts, previous != ""),
		Instructions:       opts.SystemPrompt,
		PreviousResponseID: previous,
		MaxOutputTokens:    maxTokensOr(opts.MaxTokens),
		Temperature:        opts.Temperature,
		Stream:             true,
		Store:              true,
		User:               user.ID,
	}
	if opts.ThinkingMode {
		req.Reasoning = &responsesReasoning{
			Effort:  reasoningEffort(req.MaxOutputTokens, opts.BudgetTokens),
			Summary: "auto",
		}
		req.Temperature = nil
	}
	if chat.UseWebSearch {
		req.Tools = append(req.Tools, map[string]any{"type": "web_search_preview"})
	}
	if chat.UseImageGeneration {
		req.Tools = append(req.Tools, map[string]any{"type": "image_generation", "partial_images": 2})
	}

	body, err := p.openStream(ctx, p.baseURL+"/responses", p.headers(), req)
	if err != nil {
		return err
	}
	defer body.Close()

	var (
		usage   schema.Usage
		emitted bool
		sinkErr error
	)
	// After the consumer fails the stream is still read to the end so the
	// usage of the generated tokens is recorded.
	emit := func(c schema.Chunk) error {
		if sinkErr == nil {
			sinkErr = sink(c)
		}
		return nil
	}
	err = readSSE(body, func(_ string, data []byte) error {
		var ev responsesEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("skip undecodable responses event", "err", err)
			return nil
		}
		switch ev.Type {
		case "response.created":
			return emit(schema.MetaChunk(ev.Response.ID))
		case "response.output_text.delta":
			emitted = emitted || ev.Delta != ""
			return emit(schema.TextChunk(ev.Delta))
		case "response.reasoning_summary_text.delta":
			return emit(schema.ThinkingChunk(ev.Delta))
		case "response.image_generation_call.partial_image":
			return emit(schema.ImageDataChunk(ev.ItemID, ev.PartialImageB64))
		case "response.output_item.done":
			if ev.Item.Type != "image_generation_call" || ev.Item.Result == "" {
				return nil
			}
			url, err := p.saveGenerated(ctx, ev.Item.ID, ev.Item.Result)
			if err != nil {
				return emit(schema.ErrorChunk("The generated image could not be saved.", err.Error()))
			}
			emitted = true
			return emit(schema.ImageChunk(ev.Item.ID, url))
		case "response.completed", "response.incomplete":
			usage = schema.Usage{
				InputTokens:  ev.Response.Usage.InputTokens,
				OutputTokens: ev.Response.Usage.OutputTokens,
			}
		case "response.failed":
			msg := "response failed"
			if ev.Response.Error != nil {
				msg = ev.Response.Error.Message
			}
			return fmt.Errorf("%s: %s", p.spec.Label(), msg)
		case "error":
			return fmt.Errorf("%s stream error: %s", p.spec.Label(), ev.Message)
		}
		return nil
	})
	p.recordUsage(context.WithoutCancel(ctx), user, usage)
	if err != nil {
		return err
	}
	if sinkErr != nil {
		return sinkErr
	}
	if !emitted {
		return fmt.Errorf("%s: %w", p.spec.Label(), schema.ErrEmptyResponse)
	}
	return nil
}

func (p *OpenAI) saveGenerated(ctx context.Context, id, b64 string) (string, error) {
	block, err := p.storeBase64(ctx, id, b64, "image/png")
	if err != nil {
		return "", err
	}
	return block.URL, nil
}

// responsesInput converts the history into Responses API input items. With a
// previous response id only the newest user message is sent; the vendor
// holds the rest of the conversation.
func responsesInput(opts schema.GenerateOptions, continuing bool) []any {
	last := opts.Messages.LastUserIndex()
	var items []any
	for i, m := range opts.Messages {
		if continuing && i != last {
			continue
		}
		blocks := m.Blocks()
		switch m.Role {
		case schema.RoleUser:
			parts := []any{map[string]any{"type": "input_text", "text": schema.GetVisibleText(blocks)}}
			if i == last {
				if opts.ImageData != "" {
					parts = append(parts, map[string]any{"type": "input_image", "image_url": dataURL(opts.ImageData)})
				}
				if opts.VisionURL != "" {
					parts = append(parts, map[string]any{"type": "input_image", "image_url": opts.VisionURL})
				}
			}
			items = append(items, map[string]any{"role": "user", "content": parts})

		case schema.RoleSystem:
			items = append(items, map[string]any{"role": "developer", "content": schema.GetVisibleText(blocks)})

		case schema.RoleAssistant:
			if text := schema.GetVisibleText(blocks); text != "" {
				items = append(items, map[string]any{
					"role":    "assistant",
					"content": []any{map[string]any{"type": "output_text", "text": text}},
				})
			}
			// Earlier generated images are referenced so follow-ups can edit them.
			for _, b := range blocks {
				if b.Type == schema.BlockImage && strings.HasPrefix(b.GenerationID, "ig_") {
					items = append(items, map[string]any{"type": "item_reference", "id": b.GenerationID})
				}
			}
		}
	}
	return items
}
