// Package consolidate decides how a new memory enters the store: as a new
// record, merged into its closest existing record, or not at all.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/rcliao/memory-mcp/internal/oracle"
	"github.com/rcliao/memory-mcp/internal/retrieval"
	"github.com/rcliao/memory-mcp/internal/store"
)

const maxTitleRunes = 80

// Fallback policies applied when the oracle fails.
const (
	FallbackCreate = "create"
	FallbackFail   = "fail"
)

// Matcher finds the closest existing record for a text.
type Matcher interface {
	Top(ctx context.Context, text string) (*retrieval.Hit, error)
}

// Writer persists records. Implementations keep the index in step.
type Writer interface {
	Create(ctx context.Context, p store.CreateParams) (*model.Record, error)
	Update(ctx context.Context, id string, fn store.Mutator) (*model.Record, error)
}

// Options holds consolidation thresholds. The oracle is consulted only when
// the closest record holds at least MergeThreshold of the candidate's
// keywords.
type Options struct {
	MaxRecordBytes int
	MergeThreshold float64
	OracleFallback string
}

// Result is the outcome of Memorize. Declined is set only for
// ActionDeclined.
type Result struct {
	ID       string        `json:"id,omitempty"`
	Action   model.Action  `json:"action"`
	Declined string        `json:"declined,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Verdict  model.Verdict `json:"verdict,omitempty"`
	Score    float64       `json:"score,omitempty"`
}

// Consolidator implements the memorize policy.
type Consolidator struct {
	match  Matcher
	w      Writer
	oracle oracle.Oracle
	opts   Options
	log    *slog.Logger
}

// New creates a Consolidator.
func New(match Matcher, w Writer, o oracle.Oracle, opts Options, log *slog.Logger) *Consolidator {
	if opts.OracleFallback == "" {
		opts.OracleFallback = FallbackCreate
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consolidator{match: match, w: w, oracle: o, opts: opts, log: log}
}

// Memorize stores title and body. Declines are reported in the Result;
// a non-nil error is always an operational failure.
func (c *Consolidator) Memorize(ctx context.Context, title, body string) (*Result, error) {
	body = strings.TrimSpace(body)
	title = strings.TrimSpace(title)
	if body == "" {
		return declined("empty body", ""), nil
	}
	if c.opts.MaxRecordBytes > 0 && len(body) > c.opts.MaxRecordBytes {
		return declined("size limit exceeded", fmt.Sprintf("%d bytes (%d words), limit %d bytes",
			len(body), keyword.CountWords(body), c.opts.MaxRecordBytes)), nil
	}
	if title == "" {
		title = DeriveTitle(body)
	}

	hit, err := c.match.Top(ctx, title+"\n"+body)
	if err != nil {
		return nil, err
	}
	if hit == nil || hit.Coverage < c.opts.MergeThreshold {
		return c.create(ctx, title, body)
	}

	existing := hit.Record
	j, err := c.oracle.Judge(ctx, oracle.Candidate{Title: title, Body: body}, existing)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if c.opts.OracleFallback == FallbackFail {
			return nil, memerr.New(memerr.Operational, "memorize", "oracle unavailable", err)
		}
		c.log.Warn("oracle failed, storing as new record", "closest", existing.ID, "score", hit.Score, "err", err)
		return c.create(ctx, title, body)
	}

	switch j.Verdict {
	case model.VerdictDuplicate:
		return c.duplicate(existing.ID, hit.Score, j.Reason), nil

	case model.VerdictMerge:
		merged := strings.TrimSpace(j.MergedText)
		if merged == "" {
			merged = existing.Body + "\n\n" + body
		}
		if merged == strings.TrimSpace(existing.Body) {
			return c.duplicate(existing.ID, hit.Score, "merge left record unchanged"), nil
		}
		mergedTitle := strings.TrimSpace(j.MergedTitle)
		if mergedTitle == "" {
			mergedTitle = existing.Title
		}
		rec, err := c.w.Update(ctx, existing.ID, func(r *model.Record) error {
			r.Title = mergedTitle
			r.Body = merged
			return nil
		})
		switch {
		case errors.Is(err, memerr.ErrTooLarge):
			c.log.Info("merged record too large, storing as new record", "closest", existing.ID)
			return c.create(ctx, title, body)
		case err != nil:
			return nil, err
		}
		c.log.Debug("memory merged", "id", rec.ID, "score", hit.Score)
		return &Result{ID: rec.ID, Action: model.ActionUpdated, Verdict: model.VerdictMerge, Score: hit.Score}, nil

	default:
		res, err := c.create(ctx, title, body)
		if res != nil {
			res.Verdict = model.VerdictDistinct
			res.Score = hit.Score
		}
		return res, err
	}
}

func (c *Consolidator) create(ctx context.Context, title, body string) (*Result, error) {
	rec, err := c.w.Create(ctx, store.CreateParams{Title: title, Body: body})
	switch {
	case errors.Is(err, memerr.ErrTooLarge):
		return declined("size limit exceeded", err.Error()), nil
	case errors.Is(err, memerr.ErrEmptyBody):
		return declined("empty body", ""), nil
	case err != nil:
		return nil, err
	}
	c.log.Debug("memory created", "id", rec.ID)
	return &Result{ID: rec.ID, Action: model.ActionCreated}, nil
}

func (c *Consolidator) duplicate(id string, score float64, detail string) *Result {
	c.log.Debug("memory declined as duplicate", "of", id, "score", score)
	r := declined("duplicate of "+id, detail)
	r.Verdict = model.VerdictDuplicate
	r.Score = score
	return r
}

func declined(reason, detail string) *Result {
	return &Result{Action: model.ActionDeclined, Declined: reason, Detail: detail}
}

// DeriveTitle uses the first non-empty line of body, cut to 80 runes.
func DeriveTitle(body string) string {
	for line := range strings.SplitSeq(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxTitleRunes {
			return strings.TrimSpace(string(r[:maxTitleRunes]))
		}
		return line
	}
	return ""
}
