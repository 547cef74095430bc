package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/memory-mcp/internal/config"
	"github.com/rcliao/memory-mcp/internal/consolidate"
	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/index"
	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/lifecycle"
	"github.com/rcliao/memory-mcp/internal/logging"
	"github.com/rcliao/memory-mcp/internal/metrics"
	"github.com/rcliao/memory-mcp/internal/oracle"
	"github.com/rcliao/memory-mcp/internal/retrieval"
)

// backend is everything a command needs to reach one project's engine.
type backend struct {
	root    string
	cfg     *config.Config
	loader  *config.Loader
	logger  *logging.Logger
	metrics *metrics.Manager
	mgr     *lifecycle.Manager
}

// openBackend loads configuration for the project and builds the lifecycle
// manager. forceStderr keeps logs off stdout for the stdio transport.
func openBackend(forceStderr bool) (*backend, error) {
	root, err := lifecycle.Canonical(projectRoot())
	if err != nil {
		return nil, err
	}
	overrides := map[string]any{}
	if logLevelFlag != "" {
		overrides["log.level"] = logLevelFlag
	}
	loader := config.NewLoader()
	cfg, err := loader.Load(root, configFlag, overrides)
	if err != nil {
		return nil, err
	}
	if forceStderr && cfg.Log.Output == "stdout" {
		cfg.Log.Output = "stderr"
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, err
	}
	m := metrics.NewManager(metrics.Config{Enabled: cfg.Metrics.Enabled, Addr: cfg.Metrics.Addr, Path: cfg.Metrics.Path})

	factory, err := engineFactory(cfg, m, logger)
	if err != nil {
		logger.Close()
		return nil, err
	}
	mgr := lifecycle.NewManager(factory, lifecycle.Options{
		IdleTimeout:      cfg.Lifecycle.IdleTimeout,
		ShutdownGrace:    cfg.Lifecycle.ShutdownGrace,
		OperationTimeout: cfg.Lifecycle.OperationTimeout,
		StateDir:         cfg.Store.StateDir,
	}, m, logger.Logger)

	return &backend{root: root, cfg: cfg, loader: loader, logger: logger, metrics: m, mgr: mgr}, nil
}

// engineFactory maps configuration onto engine options. The oracle is shared
// by every project the process serves.
func engineFactory(cfg *config.Config, m *metrics.Manager, logger *logging.Logger) (lifecycle.Factory, error) {
	kw := keyword.Options{
		Stemming:       cfg.Keywords.Stemming,
		StopWords:      cfg.Keywords.StopWords,
		MinLength:      cfg.Keywords.MinLength,
		ExtraStopWords: cfg.Keywords.ExtraStopWords,
	}
	judge, err := oracle.New(oracle.Config{
		Provider:      cfg.Oracle.Provider,
		APIKey:        cfg.Oracle.APIKey,
		BaseURL:       cfg.Oracle.BaseURL,
		Model:         cfg.Oracle.Model,
		Timeout:       cfg.Oracle.Timeout,
		RatePerSecond: cfg.Oracle.RatePerSecond,
		Burst:         cfg.Oracle.Burst,
	}, keyword.New(kw), logger.With("component", "oracle"))
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}

	opts := engine.Options{
		DirName:        cfg.Store.DirName,
		MaxRecordBytes: cfg.Store.MaxRecordBytes,
		Keywords:       kw,
		IndexMode:      index.Mode(cfg.Index.Mode),
		Scorer:         cfg.Retrieval.Scorer,
		Retrieval: retrieval.Options{
			DefaultLimit: cfg.Retrieval.DefaultLimit,
			MaxLimit:     cfg.Retrieval.MaxLimit,
			MinScore:     cfg.Retrieval.MinScore,
		},
		Consolidation: consolidate.Options{
			MaxRecordBytes: cfg.Store.MaxRecordBytes,
			MergeThreshold: cfg.Consolidation.MergeThreshold,
			OracleFallback: cfg.Consolidation.OracleFallback,
		},
		Watch:         cfg.Lifecycle.Watch,
		WatchDebounce: cfg.Lifecycle.WatchDebounce,
	}
	return func(ctx context.Context, root string) (*engine.Engine, error) {
		eo := opts
		eo.Root = root
		return engine.Open(ctx, eo, judge, m, logger.Logger)
	}, nil
}

// do runs fn against the project's engine.
func (b *backend) do(ctx context.Context, fn func(ctx context.Context, e *engine.Engine) error) error {
	return b.mgr.Do(ctx, b.root, fn)
}

func (b *backend) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.mgr.Shutdown(ctx); err != nil {
		b.logger.Warn("shutdown incomplete", "err", err)
	}
	b.logger.Close()
}

// fail releases the backend before exiting so the project lock is not left
// behind.
func (b *backend) fail(msg string, err error) {
	b.close()
	exitErr(msg, err)
}
