// Package oracle decides whether a new memory merges into, duplicates, or is
// distinct from an existing record.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/model"
)

// Candidate is the content offered to memorize.
type Candidate struct {
	Title string
	Body  string
}

// Judgement is the oracle's answer. MergedText and MergedTitle are only
// meaningful for VerdictMerge and may be empty.
type Judgement struct {
	Verdict     model.Verdict `json:"verdict"`
	MergedText  string        `json:"merged_text,omitempty"`
	MergedTitle string        `json:"merged_title,omitempty"`
	Reason      string        `json:"reason,omitempty"`
}

// Oracle judges a candidate against the closest existing record.
type Oracle interface {
	Judge(ctx context.Context, c Candidate, existing *model.Record) (*Judgement, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, c Candidate, existing *model.Record) (*Judgement, error)

func (f Func) Judge(ctx context.Context, c Candidate, existing *model.Record) (*Judgement, error) {
	return f(ctx, c, existing)
}

// Config selects and configures an oracle implementation.
type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// New builds the oracle named by cfg.Provider.
func New(cfg Config, norm *keyword.Normalizer, log *slog.Logger) (Oracle, error) {
	switch cfg.Provider {
	case "", "heuristic":
		return NewHeuristic(norm), nil
	case "openai":
		return NewOpenAI(cfg, log)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}
