package schema

import "context"

// The interfaces below are the collaborators the orchestration core
// consumes. Concrete implementations live in internal/storage and
// internal/identity; defined here to avoid an import cycle.

type ModelStore interface {
	FindModelByID(ctx context.Context, id int64) (*ModelRecord, error)
}

type VendorStore interface {
	FindVendorByID(ctx context.Context, id int64) (*Vendor, error)
	FindVendorByName(ctx context.Context, name string) (*Vendor, error)
}

type ToolStore interface {
	FindToolByID(ctx context.Context, id int64) (*MCPTool, error)
}

type PromptStore interface {
	FindPersona(ctx context.Context, id int64) (*Persona, error)
	FindOutputFormat(ctx context.Context, id int64) (*OutputFormat, error)
}

// UserResolver returns the application user of the current request.
type UserResolver interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// UsageLedger atomically adds amount to both the period and total usage
// counters of a user.
type UsageLedger interface {
	IncrementUsage(ctx context.Context, userID string, amount float64) error
}

// ImageStore persists generated image bytes and returns a public URL.
type ImageStore interface {
	SaveImage(ctx context.Context, id string, data []byte, mimeType string) (string, error)
}
