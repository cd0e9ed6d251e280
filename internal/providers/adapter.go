// Package providers implements the vendor adapters that translate the
// normalised chat model into each vendor's wire API, and the factory that
// selects one per request.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/snowgoose/snowgoose/internal/mcp"
	"github.com/snowgoose/snowgoose/internal/schema"
	"github.com/snowgoose/snowgoose/internal/usage"
)

const (
	defaultMaxTokens   = 4096
	minThinkingBudget  = 1024
	defaultHTTPTimeout = 120 * time.Second
)

// Deps are the collaborators every adapter needs. Users and Meter may be
// nil in tools that never call a vendor.
type Deps struct {
	Users      schema.UserResolver
	Meter      *usage.Meter
	Tools      *mcp.Bridge
	Images     schema.ImageStore
	HTTPClient *http.Client
}

// Constructor builds an adapter for one model from the vendor's config.
type Constructor func(cfg schema.VendorConfig, model schema.ModelRecord, deps Deps) schema.VendorAdapter

// baseAdapter carries the state and behaviour shared by all vendors.
// Concrete adapters embed it and override what they support.
type baseAdapter struct {
	spec    VendorSpec
	cfg     schema.VendorConfig
	model   schema.ModelRecord
	deps    Deps
	baseURL string
	http    *http.Client
}

func newBase(spec VendorSpec, cfg schema.VendorConfig, model schema.ModelRecord, deps Deps) baseAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = spec.DefaultBaseURL
	}
	hc := deps.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return baseAdapter{
		spec:    spec,
		cfg:     cfg,
		model:   model,
		deps:    deps,
		baseURL: strings.TrimRight(base, "/"),
		http:    hc,
	}
}

func (b *baseAdapter) Vendor() string                 { return b.spec.Name }
func (b *baseAdapter) SupportsMCP() bool              { return false }
func (b *baseAdapter) IsVisionCapable() bool          { return b.model.IsVision }
func (b *baseAdapter) IsImageGenerationCapable() bool { return b.model.IsImageGeneration }
func (b *baseAdapter) IsThinkingCapable() bool        { return b.model.IsThinking }
func (b *baseAdapter) InputTokenCost() float64        { return b.model.InputTokenCost }
func (b *baseAdapter) OutputTokenCost() float64       { return b.model.OutputTokenCost }

func (b *baseAdapter) GenerateImage(context.Context, *schema.Chat) (string, error) {
	return "", b.unsupported("image generation")
}

func (b *baseAdapter) SendMCPChat(context.Context, *schema.Chat, schema.MCPTool) (schema.ChatResponse, error) {
	return schema.ChatResponse{}, b.unsupported("tool use")
}

// wireModel is the vendor model id sent on every call. It is always the
// record the adapter was built for, so the model that runs is the model
// whose prices are metered.
func (b *baseAdapter) wireModel() string { return b.model.APIName }

func (b *baseAdapter) unsupported(op string) error {
	return schema.NotSupportedError(b.spec.Label(), op)
}

// currentUser resolves the user cost is attributed to.
func (b *baseAdapter) currentUser(ctx context.Context) (*schema.User, error) {
	if b.deps.Users == nil {
		return nil, schema.ErrUnauthenticated
	}
	u, err := b.deps.Users.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, schema.ErrUnauthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", schema.ErrUnauthenticated, err)
	}
	if u == nil {
		return nil, schema.ErrUnauthenticated
	}
	return u, nil
}

// recordUsage meters one vendor call. A metering failure is logged and does
// not fail the response that was already produced.
func (b *baseAdapter) recordUsage(ctx context.Context, user *schema.User, u schema.Usage) {
	if b.deps.Meter == nil || user == nil || u.IsZero() {
		return
	}
	if _, err := b.deps.Meter.Record(ctx, user.ID, u, b.model.InputTokenCost, b.model.OutputTokenCost); err != nil {
		slog.Error("usage metering failed",
			"vendor", b.spec.Name,
			"model", b.model.APIName,
			"user", user.ID,
			"input_tokens", u.InputTokens,
			"output_tokens", u.OutputTokens,
			"err", err,
		)
	}
}

// chatOptions assembles GenerateOptions from chat. The vision payload moves
// into the options and is cleared from chat so it is never resubmitted.
func (b *baseAdapter) chatOptions(chat *schema.Chat) (schema.GenerateOptions, error) {
	if chat.HasVisionInput() && !b.model.IsVision {
		return schema.GenerateOptions{}, b.unsupported("vision input")
	}
	opts := schema.GenerateOptions{
		Model:        b.model.APIName,
		Messages:     chat.ResponseHistory.Normalized(),
		MaxTokens:    chat.MaxTokens,
		SystemPrompt: chat.SystemPrompt,
		ImageData:    chat.ImageData,
		VisionURL:    chat.VisionURL,
		ThinkingMode: chat.ThinkingMode && b.model.IsThinking,
		BudgetTokens: chat.BudgetTokens,
	}
	chat.ImageData = ""
	chat.VisionURL = ""
	return opts, nil
}

func (b *baseAdapter) checkVision(opts schema.GenerateOptions) error {
	if (opts.ImageData != "" || opts.VisionURL != "") && !b.model.IsVision {
		return b.unsupported("vision input")
	}
	return nil
}

func maxTokensOr(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// thinkingBudget returns the reasoning allocation, defaulting to half of
// maxTokens.
func thinkingBudget(maxTokens, budget int) int {
	if budget > 0 && budget < maxTokens {
		return budget
	}
	return maxTokens / 2
}

// splitDataURL returns the mime type and base64 payload of a data URL, or of
// a bare base64 string (assumed PNG).
func splitDataURL(s string) (mimeType, data string) {
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		if meta, payload, ok := strings.Cut(rest, ","); ok {
			mimeType, _, _ = strings.Cut(meta, ";")
			return mimeType, payload
		}
	}
	return "image/png", s
}

func dataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		return s
	}
	return "data:image/png;base64," + s
}

// ownThinking reports whether a thinking block was produced by vendor.
// Unsigned blocks are treated as vendor-neutral and replayed only when
// allowUnsigned is set.
func ownThinking(block schema.ContentBlock, vendor string, allowUnsigned bool) (opaque string, ok bool) {
	v, opaque := schema.ParseThinkingSignature(block.Signature)
	switch {
	case v == vendor:
		return opaque, true
	case v == "" && allowUnsigned:
		return opaque, true
	}
	return "", false
}
