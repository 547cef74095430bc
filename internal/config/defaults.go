package config

import (
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// defaults holds every key's default value as flat koanf keys.
func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",
		"log.output": "stderr",

		"store.dir_name":         ".memories",
		"store.max_record_bytes": 8192,
		"store.state_dir":        "~/.memory-mcp",

		"keywords.stemming":         true,
		"keywords.stop_words":       true,
		"keywords.min_length":       2,
		"keywords.extra_stop_words": []string{},

		"index.mode": "union",

		"retrieval.scorer":        "jaccard",
		"retrieval.default_limit": 5,
		"retrieval.max_limit":     50,
		"retrieval.min_score":     0.1,

		"consolidation.merge_threshold": 0.3,
		"consolidation.oracle_fallback": "create",

		"oracle.provider":        "",
		"oracle.api_key":         "",
		"oracle.base_url":        "",
		"oracle.model":           "gpt-4o-mini",
		"oracle.timeout":         "30s",
		"oracle.rate_per_second": 2.0,
		"oracle.burst":           1,

		"lifecycle.idle_timeout":      "10m",
		"lifecycle.shutdown_grace":    "30s",
		"lifecycle.operation_timeout": "2m",
		"lifecycle.watch":             false,
		"lifecycle.watch_debounce":    "250ms",

		"metrics.enabled": false,
		"metrics.addr":    "127.0.0.1:9464",
		"metrics.path":    "/metrics",
	}
}

// DefaultConfig returns the built-in defaults, ignoring files and the
// environment.
func DefaultConfig() *Config {
	k := koanf.New(Delimiter)
	if err := k.Load(confmap.Provider(defaults(), Delimiter), nil); err != nil {
		panic("config: invalid defaults: " + err.Error())
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		panic("config: invalid defaults: " + err.Error())
	}
	cfg.Oracle.Provider = "heuristic"
	cfg.Store.StateDir = expandHome(cfg.Store.StateDir)
	return &cfg
}
