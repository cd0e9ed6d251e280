package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snowgoose/snowgoose/internal/providers"
)

// ConfigPath returns the default configuration file path: ~/.snowgoose/config.json.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// DataDir returns the snowgoose data directory: ~/.snowgoose.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".snowgoose"
	}
	return filepath.Join(home, ".snowgoose")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads and parses the config file at path. Files ending in .yaml or
// .yml are parsed as YAML, anything else as JSON.
// If path is empty, ConfigPath() is used.
// On parse failure it prints a warning and returns DefaultConfig().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		fmt.Printf("Warning: failed to parse config %s: %v\n", path, err)
		fmt.Println("Using default configuration.")
		cfg2 := DefaultConfig()
		return &cfg2, nil
	}

	return &cfg, nil
}

// Save writes cfg to path as indented JSON, or YAML for .yaml/.yml paths.
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		// Append a trailing newline for POSIX compliance.
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays credentials and settings from the environment. Set
// variables win over the file.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	for _, spec := range providers.Vendors {
		creds := c.Providers.ByName(spec.Name)
		for _, key := range spec.EnvKeys {
			if v := get(key); v != "" {
				creds.APIKey = v
				break
			}
		}
		if spec.OrgEnvKey != "" {
			if v := get(spec.OrgEnvKey); v != "" {
				creds.OrganizationID = v
			}
		}
	}

	if v := get("SNOWGOOSE_DB"); v != "" {
		c.Database.Path = v
	}
	if v := get("SNOWGOOSE_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		if ok {
			if n, err := strconv.Atoi(port); err == nil {
				c.Server.Port = n
			}
			if host != "" {
				c.Server.Host = host
			}
		} else {
			c.Server.Host = v
		}
	}
	if v := get("SNOWGOOSE_PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
}
