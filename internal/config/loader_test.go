package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("expected default port %d, got %d", def.Server.Port, cfg.Server.Port)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"providers": map[string]any{
			"anthropic": map[string]any{"apiKey": "sk-ant"},
		},
		"server": map[string]any{"port": 9000},
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-ant" {
		t.Errorf("expected anthropic key %q, got %q", "sk-ant", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected default host to survive partial config, got %q", cfg.Server.Host)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "providers:\n  google:\n    apiKey: g-key\nimages:\n  models: [imagen-3]\nusage:\n  renewalSchedule: \"0 0 1 * *\"\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Google.APIKey != "g-key" {
		t.Errorf("expected google key, got %q", cfg.Providers.Google.APIKey)
	}
	if len(cfg.Images.Models) != 1 || cfg.Images.Models[0] != "imagen-3" {
		t.Errorf("expected image models [imagen-3], got %v", cfg.Images.Models)
	}
	if cfg.Usage.RenewalSchedule != "0 0 1 * *" {
		t.Errorf("unexpected schedule %q", cfg.Usage.RenewalSchedule)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error for invalid JSON (falls back to default), got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Usage.RenewalSchedule != def.Usage.RenewalSchedule {
		t.Errorf("expected default schedule %q, got %q", def.Usage.RenewalSchedule, cfg.Usage.RenewalSchedule)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			original := DefaultConfig()
			original.Providers.OpenAI = VendorCredentials{APIKey: "sk", OrganizationID: "org"}
			original.Defaults.MaxTokens = 1234

			if err := Save(&original, path); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Providers.OpenAI != original.Providers.OpenAI {
				t.Errorf("openai mismatch: got %+v, want %+v", loaded.Providers.OpenAI, original.Providers.OpenAI)
			}
			if loaded.Defaults.MaxTokens != 1234 {
				t.Errorf("maxTokens mismatch: got %d", loaded.Defaults.MaxTokens)
			}
		})
	}
}

func TestSave_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "dir", "config.json")

	cfg := DefaultConfig()
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY": "sk-env",
		"OPENAI_ORG_ID":  "org-env",
		"GEMINI_API_KEY": "gem-env",
		"SNOWGOOSE_DB":   "/tmp/sg.db",
		"SNOWGOOSE_ADDR": "0.0.0.0:9999",
	}
	cfg := DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "from-file"
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if cfg.Providers.OpenAI.APIKey != "sk-env" || cfg.Providers.OpenAI.OrganizationID != "org-env" {
		t.Errorf("openai env not applied: %+v", cfg.Providers.OpenAI)
	}
	if cfg.Providers.Google.APIKey != "gem-env" {
		t.Errorf("expected GEMINI_API_KEY fallback, got %q", cfg.Providers.Google.APIKey)
	}
	if cfg.Providers.Anthropic.APIKey != "from-file" {
		t.Errorf("unset env must not clear file value, got %q", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Database.Path != "/tmp/sg.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if cfg.Server.Addr() != "0.0.0.0:9999" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if got := cfg.ImagesBaseURL(); got != "http://localhost:9999/images" {
		t.Errorf("images base = %q", got)
	}
}

func TestVendorConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.OpenRouter = VendorCredentials{APIKey: "or", APIBase: "https://proxy.test/v1"}
	cfg.Providers.Anthropic = VendorCredentials{APIBase: "https://ignored.test"}

	got := cfg.VendorConfigs()
	if len(got) != 1 {
		t.Fatalf("expected only configured vendors, got %v", got)
	}
	if got["openrouter"].BaseURL != "https://proxy.test/v1" {
		t.Errorf("base url not carried: %+v", got["openrouter"])
	}
	if cfg.Providers.ByName("gemini") != &cfg.Providers.Google {
		t.Error("alias gemini should resolve to google credentials")
	}
	if cfg.Providers.ByName("mistral") != nil {
		t.Error("unknown vendor should return nil")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/.snowgoose/x.db"); !strings.HasPrefix(got, home) {
		t.Errorf("expected %q under %q", got, home)
	}
	if got := expandHome("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("absolute path changed: %q", got)
	}
}

func TestUsageLocation(t *testing.T) {
	loc, err := UsageConfig{}.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC, got %v, %v", loc, err)
	}
	loc, err = UsageConfig{Timezone: "Europe/Berlin"}.Location()
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if loc.String() != "Europe/Berlin" {
		t.Errorf("got %q", loc)
	}
	if _, err := (UsageConfig{Timezone: "Mars/Olympus"}).Location(); err == nil {
		t.Error("expected error for unknown zone")
	}
}
