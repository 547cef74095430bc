// Package engine ties one project's store, index, retrieval and
// consolidation together behind a single-writer gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/rcliao/memory-mcp/internal/consolidate"
	"github.com/rcliao/memory-mcp/internal/index"
	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/metrics"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/rcliao/memory-mcp/internal/oracle"
	"github.com/rcliao/memory-mcp/internal/retrieval"
	"github.com/rcliao/memory-mcp/internal/store"
)

var ErrClosed = errors.New("engine: closed")

// Options configures an Engine.
type Options struct {
	Root           string
	DirName        string
	MaxRecordBytes int
	Keywords       keyword.Options
	IndexMode      index.Mode
	Scorer         string
	Retrieval      retrieval.Options
	Consolidation  consolidate.Options
	Watch          bool
	WatchDebounce  time.Duration
}

// Stats describes an open engine.
type Stats struct {
	Root     string                   `json:"root"`
	Store    *store.Stats             `json:"store"`
	Index    *index.Stats             `json:"index"`
	Warnings []store.IntegrityWarning `json:"warnings,omitempty"`
}

// Engine serves one project. Every operation holds the project's single
// slot for its whole duration, oracle round-trip included.
type Engine struct {
	root    string
	sem     chan struct{}
	store   *store.FileStore
	index   *index.SQLiteIndex
	repo    *repository
	ret     *retrieval.Retriever
	cons    *consolidate.Consolidator
	metrics *metrics.Manager
	log     *slog.Logger
	watcher *watcher

	closed   bool
	lastScan *store.ScanResult
}

// Open builds the store and index for opts.Root and loads every record.
func Open(ctx context.Context, opts Options, o oracle.Oracle, m *metrics.Manager, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	if opts.DirName == "" {
		opts.DirName = ".memories"
	}
	if o == nil {
		return nil, fmt.Errorf("engine: oracle is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	log = log.With("project", root)

	norm := keyword.New(opts.Keywords)
	s, err := store.NewFileStore(filepath.Join(root, opts.DirName), norm, store.Options{
		MaxRecordBytes: opts.MaxRecordBytes,
		Logger:         log.With("component", "store"),
	})
	if err != nil {
		return nil, err
	}
	x, err := index.NewSQLiteIndex(opts.IndexMode)
	if err != nil {
		return nil, err
	}
	scorer, err := retrieval.NewScorer(opts.Scorer)
	if err != nil {
		x.Close()
		return nil, err
	}

	e := &Engine{
		root:    root,
		sem:     make(chan struct{}, 1),
		store:   s,
		index:   x,
		metrics: m,
		log:     log,
	}
	e.repo = &repository{store: s, index: x, log: log.With("component", "index")}
	e.ret = retrieval.New(norm, x, e.repo, scorer, opts.Retrieval, log.With("component", "retrieval"))
	cons := opts.Consolidation
	if cons.MaxRecordBytes == 0 {
		cons.MaxRecordBytes = opts.MaxRecordBytes
	}
	e.cons = consolidate.New(e.ret, e.repo, o, cons, log.With("component", "consolidate"))

	res, err := e.repo.rebuild(ctx)
	if err != nil {
		x.Close()
		return nil, err
	}
	e.lastScan = res
	log.Info("project opened", "records", len(res.Records), "unreadable", len(res.Warnings),
		"repaired", res.Repaired, "temp_removed", res.TempFiles)

	if opts.Watch {
		w, err := newWatcher(e, opts.WatchDebounce)
		if err != nil {
			log.Warn("store watcher unavailable", "err", err)
		} else {
			e.watcher = w
		}
	}
	return e, nil
}

// Root returns the absolute project root.
func (e *Engine) Root() string { return e.root }

// Dir returns the memories directory.
func (e *Engine) Dir() string { return e.store.Dir() }

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.closed {
		<-e.sem
		return ErrClosed
	}
	return nil
}

func (e *Engine) release() { <-e.sem }

// Recall ranks stored records against query.
func (e *Engine) Recall(ctx context.Context, query string, limit int) ([]retrieval.Hit, error) {
	start := time.Now()
	if err := e.acquire(ctx); err != nil {
		e.metrics.RecordRecall("error", 0, time.Since(start))
		return nil, err
	}
	defer e.release()

	hits, err := e.ret.Recall(ctx, query, limit)
	if err != nil {
		e.metrics.RecordRecall("error", 0, time.Since(start))
		return nil, err
	}
	e.metrics.RecordRecall("ok", len(hits), time.Since(start))
	e.log.Debug("recall", "query", query, "results", len(hits))
	return hits, nil
}

// Memorize stores new content through the consolidation policy.
func (e *Engine) Memorize(ctx context.Context, title, body string) (*consolidate.Result, error) {
	start := time.Now()
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	res, err := e.cons.Memorize(ctx, title, body)
	if err != nil {
		e.metrics.RecordError("memorize", memerr.KindOf(err).String())
		return nil, err
	}
	e.metrics.RecordMemorize(string(res.Action), string(res.Verdict), time.Since(start))
	e.log.Info("memorize", "action", res.Action, "id", res.ID, "declined", res.Declined)
	return res, nil
}

// Get returns one record.
func (e *Engine) Get(ctx context.Context, id string) (*model.Record, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.store.Read(ctx, id)
}

// List returns every record, most recently updated first.
func (e *Engine) List(ctx context.Context) ([]*model.Record, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	recs, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
	return recs, nil
}

// Delete removes a record.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	e.log.Info("record deleted", "id", id)
	return nil
}

// Reload rescans the store and rebuilds the index.
func (e *Engine) Reload(ctx context.Context) (*store.ScanResult, error) {
	return e.reload(ctx, "manual")
}

func (e *Engine) reload(ctx context.Context, trigger string) (*store.ScanResult, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	res, err := e.repo.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	e.lastScan = res
	e.metrics.RecordReload(trigger)
	e.log.Info("store reloaded", "trigger", trigger, "records", len(res.Records),
		"unreadable", len(res.Warnings), "repaired", res.Repaired)
	return res, nil
}

// Stats reports store and index statistics.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	ss, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	is, err := e.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Root: e.root, Store: ss, Index: is}
	if e.lastScan != nil {
		st.Warnings = e.lastScan.Warnings
	}
	return st, nil
}

// Export returns all records in creation order.
func (e *Engine) Export(ctx context.Context) ([]*model.Record, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()
	return e.store.ExportAll(ctx)
}

// Import writes exported records, skipping ids already present.
func (e *Engine) Import(ctx context.Context, recs []*model.Record) (imported, skipped int, err error) {
	if err := e.acquire(ctx); err != nil {
		return 0, 0, err
	}
	defer e.release()

	for i, r := range recs {
		if r == nil {
			e.log.Warn("skipping empty import entry", "position", i)
			skipped++
			continue
		}
		_, ok, err := e.repo.Put(ctx, r)
		if err != nil {
			return imported, skipped, fmt.Errorf("import %s: %w", r.ID, err)
		}
		if ok {
			imported++
		} else {
			skipped++
		}
	}
	e.log.Info("records imported", "imported", imported, "skipped", skipped)
	return imported, skipped, nil
}

// Verify checks that the index holds exactly the postings of the stored
// records' keyword sets.
func (e *Engine) Verify(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	recs, err := e.store.ListAll(ctx)
	if err != nil {
		return err
	}
	want := map[string][]string{}
	for _, r := range recs {
		for _, kw := range r.Keywords {
			want[kw] = append(want[kw], r.ID)
		}
	}
	for kw := range want {
		slices.Sort(want[kw])
	}
	got, err := e.index.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(got) != len(want) {
		return fmt.Errorf("index has %d keywords, store has %d", len(got), len(want))
	}
	for kw, ids := range want {
		if !slices.Equal(ids, got[kw]) {
			return fmt.Errorf("keyword %q: index %v, store %v", kw, got[kw], ids)
		}
	}
	return nil
}

// Close waits for the in-flight operation, then releases the index and
// watcher. Further calls fail with ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	if e.watcher != nil {
		e.watcher.stop()
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer e.release()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.index.Close()
}
