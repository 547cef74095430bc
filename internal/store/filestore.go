package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/memory-mcp/internal/codec"
	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
)

var timeNow = time.Now

// Options configures a FileStore.
type Options struct {
	MaxRecordBytes int
	Logger         *slog.Logger
}

// FileStore implements Store on a directory of record files.
// Concurrent mutation of one id is prevented by the caller's serialization.
type FileStore struct {
	dir      string
	norm     *keyword.Normalizer
	maxBytes int
	log      *slog.Logger

	mu      sync.Mutex
	entropy io.Reader
}

// NewFileStore opens or creates the store directory.
func NewFileStore(dir string, norm *keyword.Normalizer, opts Options) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w: %w", dir, memerr.ErrStoreUnavailable, err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{
		dir:      dir,
		norm:     norm,
		maxBytes: opts.MaxRecordBytes,
		log:      log,
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(timeNow()), s.entropy).String()
}

func (s *FileStore) pathForID(id string) (string, error) {
	if id == "" {
		return "", memerr.New(memerr.NotFound, "store", "invalid record id (empty)", memerr.ErrNotFound)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", memerr.New(memerr.NotFound, "store", fmt.Sprintf("invalid record id %q", id), memerr.ErrNotFound)
	}
	return filepath.Join(s.dir, id+codec.Extension), nil
}

func (s *FileStore) Create(ctx context.Context, p CreateParams) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(p.Body)
	if body == "" {
		return nil, memerr.Decline("store.create", "empty body", memerr.ErrEmptyBody)
	}
	now := timeNow().UTC()
	rec := &model.Record{
		ID:        s.newID(),
		Title:     strings.TrimSpace(p.Title),
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec.Keywords = s.norm.Extract(rec.Text())

	path, err := s.pathForID(rec.ID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("create %s: record already exists", rec.ID)
	}
	if err := s.write(path, rec); err != nil {
		return nil, err
	}
	s.log.Debug("record created", "id", rec.ID, "size_bytes", rec.SizeBytes)
	return rec, nil
}

func (s *FileStore) Read(ctx context.Context, id string) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.pathForID(id)
	if err != nil {
		return nil, err
	}
	return s.readFile(path)
}

func (s *FileStore) Update(ctx context.Context, id string, fn Mutator) (*model.Record, error) {
	cur, err := s.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.Title = strings.TrimSpace(next.Title)
	next.Body = strings.TrimSpace(next.Body)
	if next.Body == "" {
		return nil, memerr.Decline("store.update", "empty body", memerr.ErrEmptyBody)
	}
	next.UpdatedAt = timeNow().UTC()
	if next.UpdatedAt.Before(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt
	}
	next.Keywords = s.norm.Extract(next.Text())

	path, _ := s.pathForID(id)
	if err := s.write(path, next); err != nil {
		return nil, err
	}
	s.log.Debug("record updated", "id", id, "size_bytes", next.SizeBytes)
	return next, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.pathForID(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return memerr.New(memerr.NotFound, "store.delete", "record not found", memerr.ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.log.Debug("record deleted", "id", id)
	return nil
}

func (s *FileStore) ListAll(ctx context.Context) ([]*model.Record, error) {
	res, err := s.scan(ctx, false)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

func (s *FileStore) Scan(ctx context.Context) (*ScanResult, error) {
	return s.scan(ctx, true)
}

func (s *FileStore) scan(ctx context.Context, repair bool) (*ScanResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w: %w", s.dir, memerr.ErrStoreUnavailable, err)
	}
	res := &ScanResult{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		path := filepath.Join(s.dir, name)
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			if repair {
				if err := os.Remove(path); err == nil {
					res.TempFiles++
				}
			}
			continue
		}
		if filepath.Ext(name) != codec.Extension {
			continue
		}
		rec, err := s.readFile(path)
		if err != nil {
			res.Warnings = append(res.Warnings, IntegrityWarning{Path: path, Err: err.Error()})
			s.log.Warn("skipping unreadable memory file", "path", path, "err", err)
			continue
		}
		if rec.ID+codec.Extension != name {
			res.Warnings = append(res.Warnings, IntegrityWarning{Path: path, Err: fmt.Sprintf("id %q does not match file name", rec.ID)})
			s.log.Warn("skipping memory file with mismatched id", "path", path, "id", rec.ID)
			continue
		}
		if want := s.norm.Extract(rec.Text()); !slices.Equal(want, rec.Keywords) {
			rec.Keywords = want
			if repair {
				if err := s.write(path, rec); err != nil {
					s.log.Warn("could not repair keywords", "id", rec.ID, "err", err)
				} else {
					res.Repaired++
				}
			}
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (s *FileStore) readFile(path string) (*model.Record, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, memerr.New(memerr.NotFound, "store.read", "record not found", memerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rec, err := codec.Decode(b)
	if err != nil {
		return nil, memerr.New(memerr.Integrity, "store.read", filepath.Base(path), err)
	}
	rec.SizeBytes = len(b)
	return rec, nil
}

// write encodes rec, enforces the size ceiling and swaps the file into place.
func (s *FileStore) write(path string, rec *model.Record) error {
	b, err := codec.Encode(rec)
	if err != nil {
		return err
	}
	if s.maxBytes > 0 && len(b) > s.maxBytes {
		return memerr.Decline("store.write",
			fmt.Sprintf("size limit exceeded: %d bytes > %d", len(b), s.maxBytes), memerr.ErrTooLarge)
	}
	return writeAtomic(path, b)
}

func writeAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("write temp file: %w: %w", memerr.ErrStoreUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename %s: %w", path, err)
	}
	return nil
}
