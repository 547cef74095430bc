// Package index maintains the keyword → record id postings used to find
// recall and consolidation candidates. It is derived state: a Rebuild from
// the store's records always reproduces it.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memory-mcp/internal/model"
)

// Mode selects how multiple query keywords combine.
type Mode string

const (
	// ModeUnion returns records sharing at least one keyword.
	ModeUnion Mode = "union"
	// ModeIntersection returns records containing every keyword.
	ModeIntersection Mode = "intersection"
)

// Stats summarizes index contents.
type Stats struct {
	Records  int `json:"records"`
	Keywords int `json:"keywords"`
	Postings int `json:"postings"`
}

// SQLiteIndex implements the keyword index on a private in-memory SQLite
// database. Callers serialize writes; reads are safe at any time.
type SQLiteIndex struct {
	db   *sql.DB
	mode Mode
}

// NewSQLiteIndex opens an empty in-memory index.
func NewSQLiteIndex(mode Mode) (*SQLiteIndex, error) {
	switch mode {
	case "":
		mode = ModeUnion
	case ModeUnion, ModeIntersection:
	default:
		return nil, fmt.Errorf("unknown index mode %q", mode)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	x := &SQLiteIndex{db: db, mode: mode}
	if err := x.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return x, nil
}

func (x *SQLiteIndex) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS postings (
		keyword   TEXT NOT NULL,
		record_id TEXT NOT NULL,
		PRIMARY KEY (keyword, record_id)
	) WITHOUT ROWID;
	CREATE INDEX IF NOT EXISTS idx_postings_record ON postings(record_id);

	CREATE TABLE IF NOT EXISTS records (
		record_id TEXT PRIMARY KEY
	) WITHOUT ROWID;
	`
	_, err := x.db.Exec(schema)
	return err
}

// Mode reports the configured combination mode.
func (x *SQLiteIndex) Mode() Mode { return x.mode }

// Rebuild replaces the whole index with the postings of recs.
func (x *SQLiteIndex) Rebuild(ctx context.Context, recs []*model.Record) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM postings`); err != nil {
		return fmt.Errorf("clear postings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	for _, r := range recs {
		if err := insert(ctx, tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// OnRecordWritten replaces the postings of r's id with r's keywords.
func (x *SQLiteIndex) OnRecordWritten(ctx context.Context, r *model.Record) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := remove(ctx, tx, r.ID); err != nil {
		return err
	}
	if err := insert(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit()
}

// OnRecordDeleted drops every posting of id. Unknown ids are a no-op.
func (x *SQLiteIndex) OnRecordDeleted(ctx context.Context, id string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := remove(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func insert(ctx context.Context, tx *sql.Tx, r *model.Record) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO records (record_id) VALUES (?)`, r.ID); err != nil {
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}
	for _, kw := range r.Keywords {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO postings (keyword, record_id) VALUES (?, ?)`, kw, r.ID); err != nil {
			return fmt.Errorf("insert posting %s/%s: %w", kw, r.ID, err)
		}
	}
	return nil
}

func remove(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM postings WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("delete postings %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// CandidatesFor returns the ids of records matching keywords under the
// configured mode, sorted ascending. No keywords yields no candidates.
func (x *SQLiteIndex) CandidatesFor(ctx context.Context, keywords []string) ([]string, error) {
	if len(keywords) == 0 {
		return []string{}, nil
	}
	uniq := dedupe(keywords)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uniq)), ",")
	args := make([]any, 0, len(uniq)+1)
	for _, kw := range uniq {
		args = append(args, kw)
	}

	var query string
	switch x.mode {
	case ModeIntersection:
		query = `SELECT record_id FROM postings WHERE keyword IN (` + placeholders + `)
		         GROUP BY record_id HAVING COUNT(DISTINCT keyword) = ? ORDER BY record_id`
		args = append(args, len(uniq))
	default:
		query = `SELECT DISTINCT record_id FROM postings WHERE keyword IN (` + placeholders + `)
		         ORDER BY record_id`
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("candidates: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Snapshot returns keyword → sorted record ids.
func (x *SQLiteIndex) Snapshot(ctx context.Context) (map[string][]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT keyword, record_id FROM postings ORDER BY keyword, record_id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var kw, id string
		if err := rows.Scan(&kw, &id); err != nil {
			return nil, err
		}
		out[kw] = append(out[kw], id)
	}
	return out, rows.Err()
}

// Stats returns index counts.
func (x *SQLiteIndex) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := x.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM records),
		       (SELECT COUNT(DISTINCT keyword) FROM postings),
		       (SELECT COUNT(*) FROM postings)`).Scan(&st.Records, &st.Keywords, &st.Postings)
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	return st, nil
}

func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
