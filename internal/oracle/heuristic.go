package oracle

import (
	"context"
	"slices"
	"strings"

	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/model"
)

// Heuristic judges without a network call. A candidate whose body text
// already appears in the existing body is a duplicate. One sharing at least
// MergeCoverage of its keywords is merged by appending, since shared keywords
// alone cannot tell a restatement from a contradiction. Anything else is
// distinct.
type Heuristic struct {
	norm          *keyword.Normalizer
	MergeCoverage float64
}

// NewHeuristic returns a Heuristic with a 0.5 merge coverage.
func NewHeuristic(norm *keyword.Normalizer) *Heuristic {
	return &Heuristic{norm: norm, MergeCoverage: 0.5}
}

func (h *Heuristic) Judge(ctx context.Context, c Candidate, existing *model.Record) (*Judgement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cand := h.norm.Extract(c.Title + "\n" + c.Body)
	if len(cand) == 0 {
		return &Judgement{Verdict: model.VerdictDistinct, Reason: "no keywords"}, nil
	}
	shared := 0
	for _, kw := range cand {
		if slices.Contains(existing.Keywords, kw) {
			shared++
		}
	}
	coverage := float64(shared) / float64(len(cand))
	switch {
	case containsText(existing.Body, c.Body):
		return &Judgement{Verdict: model.VerdictDuplicate, Reason: "body already present"}, nil
	case coverage >= h.MergeCoverage:
		return &Judgement{Verdict: model.VerdictMerge, Reason: "mostly overlapping keywords"}, nil
	default:
		return &Judgement{Verdict: model.VerdictDistinct, Reason: "low keyword overlap"}, nil
	}
}

// containsText reports whether needle occurs in haystack ignoring case,
// whitespace runs and trailing sentence punctuation.
func containsText(haystack, needle string) bool {
	n := flatten(needle)
	if n == "" {
		return false
	}
	return strings.Contains(flatten(haystack), n)
}

func flatten(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRight(s, ".!?;:")
}
