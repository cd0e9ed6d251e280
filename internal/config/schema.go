// Package config defines the configuration schema for snowgoose.
//
// JSON keys use camelCase; YAML files use the same keys.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/snowgoose/snowgoose/internal/providers"
	"github.com/snowgoose/snowgoose/internal/schema"
)

// VendorCredentials holds the credentials for one vendor.
type VendorCredentials struct {
	APIKey         string `json:"apiKey" yaml:"apiKey"`
	OrganizationID string `json:"organizationId,omitempty" yaml:"organizationId,omitempty"`
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
}

// ProvidersConfig holds credentials for every vendor with a built-in adapter.
type ProvidersConfig struct {
	OpenAI     VendorCredentials `json:"openai" yaml:"openai"`
	Anthropic  VendorCredentials `json:"anthropic" yaml:"anthropic"`
	Google     VendorCredentials `json:"google" yaml:"google"`
	OpenRouter VendorCredentials `json:"openrouter" yaml:"openrouter"`
}

// ByName returns the credentials for a vendor name or alias, or nil when
// the vendor is unknown.
func (p *ProvidersConfig) ByName(name string) *VendorCredentials {
	spec := providers.FindByName(name)
	if spec == nil {
		return nil
	}
	switch spec.Name {
	case "openai":
		return &p.OpenAI
	case "anthropic":
		return &p.Anthropic
	case "google":
		return &p.Google
	case "openrouter":
		return &p.OpenRouter
	}
	return nil
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// PublicURL is the externally reachable base URL, used for image links.
	PublicURL string `json:"publicUrl,omitempty" yaml:"publicUrl,omitempty"`
	// RatePerMinute limits chat requests per user; 0 disables limiting.
	RatePerMinute int `json:"ratePerMinute" yaml:"ratePerMinute"`
	RateBurst     int `json:"rateBurst" yaml:"rateBurst"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ImagesConfig configures image generation and storage.
type ImagesConfig struct {
	Dir string `json:"dir" yaml:"dir"`
	// Models are the model API names answered with a bare image URL.
	Models []string `json:"models" yaml:"models"`
}

// UsageConfig configures the usage period renewal job.
type UsageConfig struct {
	RenewalSchedule string `json:"renewalSchedule" yaml:"renewalSchedule"`
	Timezone        string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Location returns the renewal time zone, UTC when unset.
func (u UsageConfig) Location() (*time.Location, error) {
	if u.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, fmt.Errorf("usage timezone %q: %w", u.Timezone, err)
	}
	return loc, nil
}

// DefaultsConfig holds defaults for chats started from the CLI.
type DefaultsConfig struct {
	ModelID      int64  `json:"modelId,omitempty" yaml:"modelId,omitempty"`
	UserID       string `json:"userId,omitempty" yaml:"userId,omitempty"`
	MaxTokens    int    `json:"maxTokens" yaml:"maxTokens"`
	BudgetTokens int    `json:"budgetTokens,omitempty" yaml:"budgetTokens,omitempty"`
}

// Config is the root configuration object, loaded from
// ~/.snowgoose/config.json.
type Config struct {
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Images    ImagesConfig    `json:"images" yaml:"images"`
	Usage     UsageConfig     `json:"usage" yaml:"usage"`
	Defaults  DefaultsConfig  `json:"defaults" yaml:"defaults"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "~/.snowgoose/snowgoose.db"},
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080, RatePerMinute: 30, RateBurst: 10},
		Images: ImagesConfig{
			Dir:    "~/.snowgoose/images",
			Models: []string{"dall-e-3", "gpt-image-1"},
		},
		Usage:    UsageConfig{RenewalSchedule: "@monthly"},
		Defaults: DefaultsConfig{MaxTokens: 4096},
	}
}

// DatabasePath returns the expanded database path.
func (c *Config) DatabasePath() string { return expandHome(c.Database.Path) }

// ImagesDir returns the expanded image directory.
func (c *Config) ImagesDir() string { return expandHome(c.Images.Dir) }

// ImagesBaseURL returns the public base URL generated images are served
// from.
func (c *Config) ImagesBaseURL() string {
	base := strings.TrimRight(c.Server.PublicURL, "/")
	if base == "" {
		host := c.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(c.Server.Port)))
	}
	return base + "/images"
}

// VendorConfigs returns the credentials of every vendor with an API key,
// keyed by vendor name.
func (c *Config) VendorConfigs() map[string]schema.VendorConfig {
	out := make(map[string]schema.VendorConfig)
	for _, spec := range providers.Vendors {
		creds := c.Providers.ByName(spec.Name)
		if creds == nil || creds.APIKey == "" {
			continue
		}
		out[spec.Name] = schema.VendorConfig{
			APIKey:         creds.APIKey,
			OrganizationID: creds.OrganizationID,
			BaseURL:        creds.APIBase,
		}
	}
	return out
}

func expandHome(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}
