package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcliao/memory-mcp/internal/codec"
	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".memories")
	s, err := NewFileStore(dir, keyword.New(keyword.DefaultOptions()), Options{MaxRecordBytes: 8192})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s
}

func TestCreateAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Create(ctx, CreateParams{Title: "DB schema", Body: "  Users table has columns id, name, email\n"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if rec.Body != "Users table has columns id, name, email" {
		t.Errorf("body not trimmed: %q", rec.Body)
	}
	if !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("expected created_at == updated_at on create")
	}

	got, err := s.Read(ctx, rec.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Title != "DB schema" || got.Body != rec.Body {
		t.Errorf("round trip mismatch: %+v", got)
	}
	want := []string{"column", "db", "email", "id", "name", "schema", "table", "user"}
	if strings.Join(got.Keywords, ",") != strings.Join(want, ",") {
		t.Errorf("keywords = %v, want %v", got.Keywords, want)
	}

	fi, err := os.Stat(filepath.Join(s.Dir(), rec.ID+codec.Extension))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if int(fi.Size()) != got.SizeBytes {
		t.Errorf("size_bytes %d != file size %d", got.SizeBytes, fi.Size())
	}
}

func TestCreateUniqueIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seen := map[string]bool{}
	for range 50 {
		rec, err := s.Create(ctx, CreateParams{Body: "same body"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true
	}
}

func TestCreateEmptyBody(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(context.Background(), CreateParams{Title: "x", Body: " \n\t"})
	if !errors.Is(err, memerr.ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if memerr.KindOf(err) != memerr.Declined {
		t.Errorf("expected declined kind, got %v", memerr.KindOf(err))
	}
}

func TestSizeCeiling(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Create(ctx, CreateParams{Body: strings.Repeat("word ", 2000)})
	if !errors.Is(err, memerr.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	recs, _ := s.ListAll(ctx)
	if len(recs) != 0 {
		t.Errorf("oversize record was persisted")
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = time.Now })

	rec, _ := s.Create(ctx, CreateParams{Title: "DB schema", Body: "Users table has columns id, name, email"})
	now = now.Add(time.Minute)

	up, err := s.Update(ctx, rec.ID, func(r *model.Record) error {
		r.Body += "\n\nUsers table also has a created_at column"
		r.Keywords = []string{"ignored"}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if up.ID != rec.ID || !up.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("id or created_at changed")
	}
	if !up.UpdatedAt.After(rec.UpdatedAt) {
		t.Errorf("updated_at not advanced")
	}
	for _, kw := range up.Keywords {
		if kw == "ignored" {
			t.Errorf("caller keywords were kept")
		}
	}

	got, _ := s.Read(ctx, rec.ID)
	if !strings.Contains(got.Body, "created_at column") {
		t.Errorf("update not persisted: %q", got.Body)
	}
}

func TestUpdateTooLargeKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, _ := s.Create(ctx, CreateParams{Body: "small"})
	_, err := s.Update(ctx, rec.ID, func(r *model.Record) error {
		r.Body = strings.Repeat("x", 9000)
		return nil
	})
	if !errors.Is(err, memerr.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	got, _ := s.Read(ctx, rec.ID)
	if got.Body != "small" {
		t.Errorf("record changed after failed update: %q", got.Body)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, _ := s.Create(ctx, CreateParams{Body: "data"})
	if err := s.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Read(ctx, rec.ID); !errors.Is(err, memerr.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := s.Delete(ctx, rec.ID); !errors.Is(err, memerr.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "..", "../escape", `a\b`} {
		if _, err := s.Read(context.Background(), id); !errors.Is(err, memerr.ErrNotFound) {
			t.Errorf("id %q: expected not found, got %v", id, err)
		}
	}
}

func TestScanSkipsCorruptAndRepairs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	good, _ := s.Create(ctx, CreateParams{Title: "deploy", Body: "Deploys run from the main branch"})

	os.WriteFile(filepath.Join(s.Dir(), "broken.md"), []byte("no front matter"), 0o644)
	os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0o644)
	os.WriteFile(filepath.Join(s.Dir(), "x.md.123.tmp"), []byte("partial"), 0o644)

	// Hand-edited file with stale keywords.
	stale := &model.Record{
		ID:        "01HSTALE0000000000000000000",
		Title:     "cache",
		Keywords:  []string{"wrong"},
		Body:      "Redis caches sessions",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	b, err := codec.Encode(stale)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	os.WriteFile(filepath.Join(s.Dir(), stale.ID+codec.Extension), b, 0o644)

	res, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(res.Records))
	}
	if len(res.Warnings) != 1 || !strings.HasSuffix(res.Warnings[0].Path, "broken.md") {
		t.Errorf("expected one warning for broken.md, got %+v", res.Warnings)
	}
	if res.Repaired != 1 {
		t.Errorf("expected 1 repaired record, got %d", res.Repaired)
	}
	if res.TempFiles != 1 {
		t.Errorf("expected 1 temp file removed, got %d", res.TempFiles)
	}

	fixed, err := s.Read(ctx, stale.ID)
	if err != nil {
		t.Fatalf("read repaired: %v", err)
	}
	if strings.Join(fixed.Keywords, ",") != "cache,redis,session" {
		t.Errorf("keywords not repaired: %v", fixed.Keywords)
	}
	if _, err := s.Read(ctx, good.ID); err != nil {
		t.Errorf("good record unreadable: %v", err)
	}
}

func TestExportAndPut(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	dst := newTestStore(t)

	src.Create(ctx, CreateParams{Title: "a", Body: "alpha"})
	src.Create(ctx, CreateParams{Title: "b", Body: "beta"})

	recs, err := src.ExportAll(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 exported, got %d", len(recs))
	}
	for _, r := range recs {
		if _, ok, err := dst.Put(ctx, r); err != nil || !ok {
			t.Fatalf("put %s: ok=%v err=%v", r.ID, ok, err)
		}
	}
	if _, ok, _ := dst.Put(ctx, recs[0]); ok {
		t.Errorf("expected existing id to be skipped")
	}
	got, _ := dst.Read(ctx, recs[1].ID)
	if got.Body != "beta" || !got.CreatedAt.Equal(recs[1].CreatedAt) {
		t.Errorf("imported record mismatch: %+v", got)
	}
	if _, ok, err := dst.Put(ctx, nil); ok || !errors.Is(err, ErrNilRecord) {
		t.Errorf("expected nil record rejected, got ok=%v err=%v", ok, err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Create(ctx, CreateParams{Body: "one"})
	s.Create(ctx, CreateParams{Body: "two"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Records != 2 || st.TotalBytes == 0 || st.LargestBytes == 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestStoreDirCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", ".memories")
	if _, err := NewFileStore(dir, keyword.New(keyword.DefaultOptions()), Options{}); err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Error("expected store dir to be created")
	}
}
