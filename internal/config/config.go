// Package config loads memory-mcp settings from defaults, a project config
// file, the environment and command-line overrides.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Store         StoreConfig         `mapstructure:"store"`
	Keywords      KeywordsConfig      `mapstructure:"keywords"`
	Index         IndexConfig         `mapstructure:"index"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Oracle        OracleConfig        `mapstructure:"oracle"`
	Lifecycle     LifecycleConfig     `mapstructure:"lifecycle"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error disable"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// StoreConfig configures the record store.
type StoreConfig struct {
	DirName        string `mapstructure:"dir_name" validate:"required,excludesall=/\\"`
	MaxRecordBytes int    `mapstructure:"max_record_bytes" validate:"min=256"`
	StateDir       string `mapstructure:"state_dir" validate:"required"`
}

// KeywordsConfig configures keyword normalization.
type KeywordsConfig struct {
	Stemming       bool     `mapstructure:"stemming"`
	StopWords      bool     `mapstructure:"stop_words"`
	MinLength      int      `mapstructure:"min_length" validate:"min=1,max=16"`
	ExtraStopWords []string `mapstructure:"extra_stop_words"`
}

// IndexConfig configures candidate selection.
type IndexConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=union intersection"`
}

// RetrievalConfig configures ranking.
type RetrievalConfig struct {
	Scorer       string  `mapstructure:"scorer" validate:"oneof=jaccard overlap"`
	DefaultLimit int     `mapstructure:"default_limit" validate:"min=1"`
	MaxLimit     int     `mapstructure:"max_limit" validate:"min=1,gtefield=DefaultLimit"`
	MinScore     float64 `mapstructure:"min_score" validate:"gte=0,lte=1"`
}

// ConsolidationConfig configures the memorize policy.
type ConsolidationConfig struct {
	MergeThreshold float64 `mapstructure:"merge_threshold" validate:"gte=0,lte=1"`
	OracleFallback string  `mapstructure:"oracle_fallback" validate:"oneof=create fail"`
}

// OracleConfig configures the merge oracle.
type OracleConfig struct {
	Provider      string        `mapstructure:"provider" validate:"omitempty,oneof=heuristic openai"`
	APIKey        string        `mapstructure:"api_key" validate:"required_if=Provider openai"`
	BaseURL       string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model         string        `mapstructure:"model" validate:"required"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RatePerSecond float64       `mapstructure:"rate_per_second" validate:"gte=0"`
	Burst         int           `mapstructure:"burst" validate:"min=1"`
}

// LifecycleConfig configures per-project instance lifetime.
type LifecycleConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace" validate:"gte=0"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	Watch            bool          `mapstructure:"watch"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Path    string `mapstructure:"path" validate:"startswith=/"`
}
