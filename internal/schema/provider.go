package schema

import "context"

// VendorAdapter translates between the content model and one vendor's API.
// Capability flags and costs are fixed at construction from the ModelRecord.
type VendorAdapter interface {
	// Vendor returns the lower-case vendor key, e.g. "anthropic".
	Vendor() string

	GenerateResponse(ctx context.Context, opts GenerateOptions) (ChatResponse, error)
	GenerateImage(ctx context.Context, chat *Chat) (string, error)
	SendChat(ctx context.Context, chat *Chat) (ChatResponse, error)
	SendMCPChat(ctx context.Context, chat *Chat, tool MCPTool) (ChatResponse, error)

	// SupportsMCP reports whether SendMCPChat is implemented.
	SupportsMCP() bool

	IsVisionCapable() bool
	IsImageGenerationCapable() bool
	IsThinkingCapable() bool
	InputTokenCost() float64
	OutputTokenCost() float64
}

// StreamingAdapter is implemented by adapters that can stream a chat turn
// as incremental chunks.
type StreamingAdapter interface {
	VendorAdapter
	StreamChat(ctx context.Context, chat *Chat, sink ChunkSink) error
}
