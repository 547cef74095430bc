package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rcliao/memory-mcp/internal/index"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/rcliao/memory-mcp/internal/store"
)

// repository applies every mutation to the store and then the index, so the
// index never describes a write the store did not accept. If the index
// update fails the index is rebuilt from the store.
type repository struct {
	store *store.FileStore
	index *index.SQLiteIndex
	log   *slog.Logger
}

func (r *repository) Read(ctx context.Context, id string) (*model.Record, error) {
	return r.store.Read(ctx, id)
}

func (r *repository) Create(ctx context.Context, p store.CreateParams) (*model.Record, error) {
	rec, err := r.store.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	return rec, r.indexed(ctx, r.index.OnRecordWritten(ctx, rec))
}

func (r *repository) Update(ctx context.Context, id string, fn store.Mutator) (*model.Record, error) {
	rec, err := r.store.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	return rec, r.indexed(ctx, r.index.OnRecordWritten(ctx, rec))
}

func (r *repository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	return r.indexed(ctx, r.index.OnRecordDeleted(ctx, id))
}

func (r *repository) Put(ctx context.Context, rec *model.Record) (*model.Record, bool, error) {
	out, ok, err := r.store.Put(ctx, rec)
	if err != nil || !ok {
		return out, ok, err
	}
	return out, true, r.indexed(ctx, r.index.OnRecordWritten(ctx, out))
}

// indexed recovers from a failed incremental index update.
func (r *repository) indexed(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	r.log.Warn("incremental index update failed, rebuilding", "err", err)
	if _, rerr := r.rebuild(ctx); rerr != nil {
		return fmt.Errorf("rebuild index: %w: %w", memerr.ErrStoreUnavailable, rerr)
	}
	return nil
}

// rebuild rescans the store and replaces the index.
func (r *repository) rebuild(ctx context.Context) (*store.ScanResult, error) {
	res, err := r.store.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.index.Rebuild(ctx, res.Records); err != nil {
		return nil, err
	}
	return res, nil
}
