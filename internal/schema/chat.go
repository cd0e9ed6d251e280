package schema

// Chat is the normalised request envelope handed to the orchestrator.
type Chat struct {
	ResponseHistory    History `json:"responseHistory"`
	Model              string  `json:"model"`
	ModelID            int64   `json:"modelId"`
	PersonaID          int64   `json:"personaId,omitempty"`
	OutputFormatID     int64   `json:"outputFormatId,omitempty"`
	SystemPrompt       string  `json:"systemPrompt,omitempty"`
	MaxTokens          int     `json:"maxTokens,omitempty"`
	BudgetTokens       int     `json:"budgetTokens,omitempty"`
	ImageData          string  `json:"imageData,omitempty"`
	VisionURL          string  `json:"visionUrl,omitempty"`
	MCPToolID          int64   `json:"mcpToolId,omitempty"`
	UseWebSearch       bool    `json:"useWebSearch,omitempty"`
	UseImageGeneration bool    `json:"useImageGeneration,omitempty"`
	ThinkingMode       bool    `json:"thinkingMode,omitempty"`
	PreviousResponseID string  `json:"previousResponseId,omitempty"`
}

// Prompt returns the visible text of the newest user message.
func (c *Chat) Prompt() string {
	if i := c.ResponseHistory.LastUserIndex(); i >= 0 {
		return c.ResponseHistory[i].VisibleText()
	}
	return ""
}

// HasVisionInput reports whether the current turn carries an image.
func (c *Chat) HasVisionInput() bool {
	return c.ImageData != "" || c.VisionURL != ""
}

// Usage is the token count reported by a vendor for one call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

func (u Usage) IsZero() bool { return u.InputTokens == 0 && u.OutputTokens == 0 }

// ChatResponse is the normalised assistant answer of any adapter.
type ChatResponse struct {
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content"`
	ResponseID string         `json:"responseId,omitempty"`
	Usage      Usage          `json:"usage"`
}

// Message converts the response into a history entry.
func (r ChatResponse) Message() Message {
	return Message{Role: RoleAssistant, Content: r.Content}
}

// GenerateOptions is the vendor-neutral input of VendorAdapter.GenerateResponse.
type GenerateOptions struct {
	Model        string
	Messages     History
	MaxTokens    int
	Temperature  *float64
	SystemPrompt string
	ImageData    string
	VisionURL    string
	ThinkingMode bool
	BudgetTokens int
}

// ModelRecord is the admin-maintained configuration of one model.
type ModelRecord struct {
	ID                int64   `json:"id"`
	APIName           string  `json:"apiName"`
	Name              string  `json:"name"`
	APIVendorID       int64   `json:"apiVendorId,omitempty"`
	IsVision          bool    `json:"isVision"`
	IsImageGeneration bool    `json:"isImageGeneration"`
	IsThinking        bool    `json:"isThinking"`
	InputTokenCost    float64 `json:"inputTokenCost"`
	OutputTokenCost   float64 `json:"outputTokenCost"`
	PaidOnly          bool    `json:"paidOnly"`
}

// Vendor is an API vendor row.
type Vendor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// VendorConfig holds the operator-supplied credentials for one vendor.
type VendorConfig struct {
	APIKey         string
	OrganizationID string
	BaseURL        string
}

// MCPTool identifies an external tool-provider process.
type MCPTool struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// User is the application user usage is attributed to.
type User struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	PeriodUsage float64 `json:"periodUsage"`
	TotalUsage  float64 `json:"totalUsage"`
}

type Persona struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

type OutputFormat struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}
