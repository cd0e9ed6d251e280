// Package chat is the single entry point of the orchestration core: it
// resolves the model of a chat turn, picks the vendor adapter and
// dispatches to image generation, tool use or a plain chat.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// AdapterSource builds the adapter for a model. *providers.Factory
// implements it.
type AdapterSource interface {
	GetAdapter(ctx context.Context, model schema.ModelRecord) (schema.VendorAdapter, error)
}

// Result is the outcome of one turn. Exactly one of Response and ImageURL
// is meaningful: ImageURL is set when the model is an image model.
type Result struct {
	Response schema.ChatResponse
	ImageURL string
}

// IsImage reports whether the turn produced a bare image URL.
func (r Result) IsImage() bool { return r.ImageURL != "" }

// Options configures an Orchestrator.
type Options struct {
	// ImageModels are the API names dispatched to GenerateImage.
	ImageModels []string
}

// Orchestrator dispatches chat turns to vendor adapters.
type Orchestrator struct {
	models   schema.ModelStore
	adapters AdapterSource
	tools    schema.ToolStore
	prompts  schema.PromptStore

	imageModels map[string]struct{}
}

// NewOrchestrator wires an Orchestrator. tools and prompts may be nil when
// chats never reference tool servers, personas or output formats.
func NewOrchestrator(models schema.ModelStore, adapters AdapterSource, tools schema.ToolStore, prompts schema.PromptStore, opts Options) *Orchestrator {
	o := &Orchestrator{
		models:      models,
		adapters:    adapters,
		tools:       tools,
		prompts:     prompts,
		imageModels: make(map[string]struct{}, len(opts.ImageModels)),
	}
	for _, name := range opts.ImageModels {
		o.imageModels[strings.ToLower(name)] = struct{}{}
	}
	return o
}

type route int

const (
	routeChat route = iota
	routeImage
	routeTool
)

func (r route) String() string {
	switch r {
	case routeImage:
		return "image"
	case routeTool:
		return "tool"
	}
	return "chat"
}

// turn is a validated, resolved chat turn ready for dispatch.
type turn struct {
	adapter schema.VendorAdapter
	tool    *schema.MCPTool
	route   route
}

// SendChat answers chat. tool overrides chat.MCPToolID when non-nil.
func (o *Orchestrator) SendChat(ctx context.Context, chat *schema.Chat, tool *schema.MCPTool) (Result, error) {
	t, err := o.prepare(ctx, chat, tool)
	if err != nil {
		return Result{}, err
	}

	switch t.route {
	case routeImage:
		url, err := t.adapter.GenerateImage(ctx, chat)
		if err != nil {
			return Result{}, err
		}
		return Result{ImageURL: url}, nil
	case routeTool:
		resp, err := t.adapter.SendMCPChat(ctx, chat, *t.tool)
		if err != nil {
			return Result{}, err
		}
		return Result{Response: resp}, nil
	default:
		resp, err := t.adapter.SendChat(ctx, chat)
		if err != nil {
			return Result{}, err
		}
		return Result{Response: resp}, nil
	}
}

// StreamChat answers chat as chunks delivered to sink. The stream always
// ends with a stream-complete chunk; a failure is reported in-band as an
// error chunk before it. The returned error is the failure, if any.
func (o *Orchestrator) StreamChat(ctx context.Context, chat *schema.Chat, tool *schema.MCPTool, sink schema.ChunkSink) error {
	err := o.stream(ctx, chat, tool, sink)
	if err != nil {
		slog.Warn("chat turn failed", "err", err)
		if serr := sink(schema.ErrorChunk(PublicMessage(err), err.Error())); serr != nil {
			return errors.Join(err, serr)
		}
	}
	if serr := sink(schema.CompleteChunk()); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

func (o *Orchestrator) stream(ctx context.Context, chat *schema.Chat, tool *schema.MCPTool, sink schema.ChunkSink) error {
	t, err := o.prepare(ctx, chat, tool)
	if err != nil {
		return err
	}

	switch t.route {
	case routeImage:
		url, err := t.adapter.GenerateImage(ctx, chat)
		if err != nil {
			return err
		}
		return sink(schema.ImageChunk("img_"+uuid.NewString(), url))
	case routeTool:
		resp, err := t.adapter.SendMCPChat(ctx, chat, *t.tool)
		if err != nil {
			return err
		}
		return emit(resp, sink)
	}

	if s, ok := t.adapter.(schema.StreamingAdapter); ok {
		return s.StreamChat(ctx, chat, sink)
	}
	resp, err := t.adapter.SendChat(ctx, chat)
	if err != nil {
		return err
	}
	return emit(resp, sink)
}

func emit(resp schema.ChatResponse, sink schema.ChunkSink) error {
	if resp.ResponseID != "" {
		if err := sink(schema.MetaChunk(resp.ResponseID)); err != nil {
			return err
		}
	}
	for _, c := range schema.BlockChunks(resp.Content) {
		if err := sink(c); err != nil {
			return err
		}
	}
	return nil
}

// prepare validates chat, resolves its model, system prompt, adapter and
// tool, and picks the route. Image generation wins over tool use, which
// wins over a plain chat.
func (o *Orchestrator) prepare(ctx context.Context, chat *schema.Chat, tool *schema.MCPTool) (*turn, error) {
	if err := validate(chat); err != nil {
		return nil, err
	}

	model, err := o.models.FindModelByID(ctx, chat.ModelID)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			return nil, fmt.Errorf("model not found: %w", err)
		}
		return nil, fmt.Errorf("resolve model %d: %w", chat.ModelID, err)
	}
	if chat.Model != "" && !strings.EqualFold(chat.Model, model.APIName) {
		return nil, fmt.Errorf("%w: model %q does not match model id %d (%s)",
			schema.ErrInvalidChat, chat.Model, chat.ModelID, model.APIName)
	}
	chat.Model = model.APIName

	if err := o.composeSystemPrompt(ctx, chat); err != nil {
		return nil, err
	}

	adapter, err := o.adapters.GetAdapter(ctx, *model)
	if err != nil {
		return nil, err
	}

	t := &turn{adapter: adapter}
	if o.isImageModel(*model) {
		t.route = routeImage
		return t, nil
	}

	if tool == nil && chat.MCPToolID != 0 {
		if tool, err = o.resolveTool(ctx, chat.MCPToolID); err != nil {
			return nil, err
		}
	}
	if tool != nil && adapter.SupportsMCP() {
		t.tool = tool
		t.route = routeTool
	} else if tool != nil {
		slog.Debug("tool ignored by vendor without tool support", "vendor", adapter.Vendor(), "tool", tool.Name)
	}

	slog.Debug("chat turn dispatched",
		"model", model.APIName,
		"vendor", adapter.Vendor(),
		"route", t.route,
		"messages", len(chat.ResponseHistory),
	)
	return t, nil
}

func validate(chat *schema.Chat) error {
	if chat == nil {
		return fmt.Errorf("%w: nil chat", schema.ErrInvalidChat)
	}
	last, ok := chat.ResponseHistory.Last()
	if !ok {
		return fmt.Errorf("%w: empty history", schema.ErrInvalidChat)
	}
	if last.Role != schema.RoleUser {
		return fmt.Errorf("%w: last message must come from the user, got %q", schema.ErrInvalidChat, last.Role)
	}
	return nil
}

func (o *Orchestrator) isImageModel(m schema.ModelRecord) bool {
	_, ok := o.imageModels[strings.ToLower(m.APIName)]
	return ok
}

func (o *Orchestrator) resolveTool(ctx context.Context, id int64) (*schema.MCPTool, error) {
	if o.tools == nil {
		return nil, fmt.Errorf("resolve tool %d: no tool store", id)
	}
	tool, err := o.tools.FindToolByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve tool %d: %w", id, err)
	}
	return tool, nil
}

// composeSystemPrompt fills an empty system prompt from the chat's persona
// and output format.
func (o *Orchestrator) composeSystemPrompt(ctx context.Context, chat *schema.Chat) error {
	if chat.SystemPrompt != "" || o.prompts == nil {
		return nil
	}
	var parts []string
	if chat.PersonaID != 0 {
		p, err := o.prompts.FindPersona(ctx, chat.PersonaID)
		if err != nil {
			return fmt.Errorf("resolve persona %d: %w", chat.PersonaID, err)
		}
		if p.Prompt != "" {
			parts = append(parts, p.Prompt)
		}
	}
	if chat.OutputFormatID != 0 {
		f, err := o.prompts.FindOutputFormat(ctx, chat.OutputFormatID)
		if err != nil {
			return fmt.Errorf("resolve output format %d: %w", chat.OutputFormatID, err)
		}
		if f.Prompt != "" {
			parts = append(parts, f.Prompt)
		}
	}
	chat.SystemPrompt = strings.Join(parts, "\n\n")
	return nil
}

// PublicMessage is the user-facing text for err. Vendor and internal
// failures get a generic message; the detail goes to the private message.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, schema.ErrInvalidChat),
		errors.Is(err, schema.ErrNotSupported),
		errors.Is(err, schema.ErrNotFound):
		return err.Error()
	case errors.Is(err, schema.ErrUnauthenticated):
		return "Please sign in to chat."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return "Something went wrong while generating a response. Please try again."
	}
}

// ErrorResponse turns a failed turn into an assistant message carrying an
// error block so the conversation can continue.
func ErrorResponse(err error) schema.ChatResponse {
	return schema.ChatResponse{
		Role:    schema.RoleAssistant,
		Content: []schema.ContentBlock{schema.ErrorBlock(PublicMessage(err), err.Error())},
	}
}
