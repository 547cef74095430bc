// Package retrieval ranks stored records against a free-text query.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
)

// Candidates yields record ids sharing keywords with a query.
type Candidates interface {
	CandidatesFor(ctx context.Context, keywords []string) ([]string, error)
}

// Records loads records by id.
type Records interface {
	Read(ctx context.Context, id string) (*model.Record, error)
}

// Options holds ranking limits. MinScore is a floor on query coverage, so a
// long record matching every query keyword is never filtered out for its
// length.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	MinScore     float64
}

// Hit is a ranked record. Score orders hits; Coverage is the share of the
// query's keywords present in the record.
type Hit struct {
	Record   *model.Record `json:"record"`
	Score    float64       `json:"score"`
	Coverage float64       `json:"coverage"`
}

// Retriever answers recall queries. It has no side effects.
type Retriever struct {
	norm   *keyword.Normalizer
	index  Candidates
	recs   Records
	scorer Scorer
	opts   Options
	log    *slog.Logger
}

// New creates a Retriever.
func New(norm *keyword.Normalizer, index Candidates, recs Records, scorer Scorer, opts Options, log *slog.Logger) *Retriever {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 5
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{norm: norm, index: index, recs: recs, scorer: scorer, opts: opts, log: log}
}

// Recall returns up to limit records covering at least MinScore of query.
// limit <= 0 selects the default; larger values are clamped to MaxLimit.
func (r *Retriever) Recall(ctx context.Context, query string, limit int) ([]Hit, error) {
	switch {
	case limit <= 0:
		limit = r.opts.DefaultLimit
	case limit > r.opts.MaxLimit:
		limit = r.opts.MaxLimit
	}

	hits, err := r.Rank(ctx, r.norm.Extract(query))
	if err != nil {
		return nil, err
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Coverage < r.opts.MinScore || h.Coverage == 0 {
			continue
		}
		out = append(out, h)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Top returns the record containing the largest share of text's keywords,
// ties going to ranking order, regardless of MinScore. It returns nil when
// nothing shares a keyword with text.
func (r *Retriever) Top(ctx context.Context, text string) (*Hit, error) {
	hits, err := r.Rank(ctx, r.norm.Extract(text))
	if err != nil || len(hits) == 0 {
		return nil, err
	}
	best := 0
	for i, h := range hits {
		if h.Coverage > hits[best].Coverage {
			best = i
		}
	}
	return &hits[best], nil
}

// Rank scores every candidate for keywords and orders them by score desc,
// then most recently updated, then id desc.
func (r *Retriever) Rank(ctx context.Context, keywords []string) ([]Hit, error) {
	hits := []Hit{}
	if len(keywords) == 0 {
		return hits, nil
	}
	ids, err := r.index.CandidatesFor(ctx, keywords)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		rec, err := r.recs.Read(ctx, id)
		if err != nil {
			if k := memerr.KindOf(err); k == memerr.NotFound || k == memerr.Integrity {
				r.log.Warn("index candidate unreadable", "id", id, "err", err)
				continue
			}
			return nil, err
		}
		hits = append(hits, Hit{
			Record:   rec,
			Score:    r.scorer.Score(keywords, rec.Keywords),
			Coverage: Overlap{}.Score(keywords, rec.Keywords),
		})
	}
	Sort(hits)
	return hits, nil
}

// Sort orders hits by the ranking rule.
func Sort(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.UpdatedAt.Equal(b.Record.UpdatedAt) {
			return a.Record.UpdatedAt.After(b.Record.UpdatedAt)
		}
		return a.Record.ID > b.Record.ID
	})
}
