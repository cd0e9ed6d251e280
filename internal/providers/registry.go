package providers

import "strings"

// VendorSpec is the metadata record for one supported vendor.
type VendorSpec struct {
	Name           string   // registry key, matched case-insensitively
	Aliases        []string // alternative vendor names found in the vendors table
	DisplayName    string   // shown in errors and `snowgoose status`
	EnvKeys        []string // env vars holding the API key, first match wins
	OrgEnvKey      string   // env var holding the organisation id, if any
	DefaultBaseURL string
}

// Label returns the display name, defaulting to the registry key.
func (s VendorSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// Vendors is the closed set of vendors with a built-in adapter.
var Vendors = []VendorSpec{
	{
		Name:           "openai",
		DisplayName:    "OpenAI",
		EnvKeys:        []string{"OPENAI_API_KEY"},
		OrgEnvKey:      "OPENAI_ORG_ID",
		DefaultBaseURL: "https://api.openai.com/v1",
	},
	{
		Name:           "anthropic",
		Aliases:        []string{"claude"},
		DisplayName:    "Anthropic",
		EnvKeys:        []string{"ANTHROPIC_API_KEY"},
		DefaultBaseURL: "https://api.anthropic.com/v1",
	},
	{
		Name:           "google",
		Aliases:        []string{"gemini"},
		DisplayName:    "Google",
		EnvKeys:        []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"},
		DefaultBaseURL: "https://generativelanguage.googleapis.com",
	},
	{
		Name:           "openrouter",
		DisplayName:    "OpenRouter",
		EnvKeys:        []string{"OPENROUTER_API_KEY"},
		DefaultBaseURL: "https://openrouter.ai/api/v1",
	},
}

// FindByName returns the spec whose name or alias equals name, ignoring case.
func FindByName(name string) *VendorSpec {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := range Vendors {
		if Vendors[i].Name == name {
			return &Vendors[i]
		}
		for _, a := range Vendors[i].Aliases {
			if a == name {
				return &Vendors[i]
			}
		}
	}
	return nil
}

func mustSpec(name string) VendorSpec {
	s := FindByName(name)
	if s == nil {
		panic("providers: unknown built-in vendor " + name)
	}
	return *s
}
