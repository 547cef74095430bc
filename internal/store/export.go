package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
)

// ErrNilRecord is returned by Put for a missing record.
var ErrNilRecord = errors.New("store: nil record")

// ExportAll returns all readable records ordered by creation time.
func (s *FileStore) ExportAll(ctx context.Context) ([]*model.Record, error) {
	recs, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

// Put writes an exported record back, keeping its id and timestamps.
// Keywords are recomputed. Returns false if a record with that id exists.
func (s *FileStore) Put(ctx context.Context, r *model.Record) (*model.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if r == nil {
		return nil, false, memerr.Decline("put", "empty record", ErrNilRecord)
	}
	path, err := s.pathForID(r.ID)
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}

	rec := r.Clone()
	rec.Title = strings.TrimSpace(rec.Title)
	rec.Body = strings.TrimSpace(rec.Body)
	if rec.Body == "" {
		return nil, false, memerr.Decline("store.put", "empty body", memerr.ErrEmptyBody)
	}
	now := timeNow().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		rec.UpdatedAt = rec.CreatedAt
	}
	rec.Keywords = s.norm.Extract(rec.Text())
	rec.SizeBytes = 0
	if err := s.write(path, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}
