package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "MEMORY_MCP_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// ProjectFiles are looked up in the project root when no explicit config
// path is given.
var ProjectFiles = []string{".memory-mcp.yaml", ".memory-mcp.yml", ".memory-mcp.json"}

// Loader handles configuration loading from various sources.
type Loader struct {
	k *koanf.Koanf
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load merges, lowest priority first: defaults, the config file (configPath,
// else the first of ProjectFiles found in projectDir), MEMORY_MCP_* env vars,
// then overrides.
func (l *Loader) Load(projectDir, configPath string, overrides map[string]any) (*Config, error) {
	if err := l.k.Load(confmap.Provider(defaults(), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := l.loadFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else if projectDir != "" {
		for _, name := range ProjectFiles {
			path := filepath.Join(projectDir, name)
			if _, err := os.Stat(path); err == nil {
				if err := l.loadFile(path); err != nil {
					return nil, fmt.Errorf("failed to load config file: %w", err)
				}
				break
			}
		}
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	resolve(&cfg)

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", path)
	}
	return l.k.Load(file.Provider(path), parser)
}

// loadEnv maps MEMORY_MCP_SECTION_SOME_KEY to section.some_key. List values
// are comma separated.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(EnvPrefix, Delimiter, func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.Replace(key, "_", Delimiter, 1)
		if key == "keywords.extra_stop_words" {
			var words []string
			for w := range strings.SplitSeq(value, ",") {
				if w = strings.TrimSpace(w); w != "" {
					words = append(words, w)
				}
			}
			return key, words
		}
		return key, value
	}), nil)
}

// Print returns the merged configuration for debugging. Secrets are masked.
func (l *Loader) Print() string {
	c := l.k.Copy()
	if c.String("oracle.api_key") != "" {
		_ = c.Set("oracle.api_key", "****")
	}
	return c.Sprint()
}

// resolve fills derived values: OpenAI env fallbacks, the oracle provider
// and home-relative paths.
func resolve(cfg *Config) {
	if cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.Oracle.Provider == "" {
		cfg.Oracle.Provider = "heuristic"
		if cfg.Oracle.APIKey != "" {
			cfg.Oracle.Provider = "openai"
		}
	}
	cfg.Store.StateDir = expandHome(cfg.Store.StateDir)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
