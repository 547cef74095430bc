// Package tools is the agent-facing surface: recall and memorize against the
// project this process serves, exposed over MCP.
package tools

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/lifecycle"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/metrics"
	"github.com/rcliao/memory-mcp/internal/model"
)

// RecallResult is one ranked memory.
type RecallResult struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
	Body  string  `json:"body"`
}

// RecallResponse is returned by recall_memory_tool.
type RecallResponse struct {
	Results []RecallResult `json:"results"`
}

// MemorizeResponse is returned by memorize_memory_tool. Exactly one of
// Action and Declined is meaningful.
type MemorizeResponse struct {
	ID       string `json:"id,omitempty"`
	Action   string `json:"action,omitempty"`
	Declined string `json:"declined,omitempty"`
}

// Runner runs fn against the engine of a project root.
type Runner interface {
	Do(ctx context.Context, root string, fn func(ctx context.Context, e *engine.Engine) error) error
}

var _ Runner = (*lifecycle.Manager)(nil)

// Service binds the tool operations to one project root.
type Service struct {
	run     Runner
	root    string
	metrics *metrics.Manager
	log     *slog.Logger
}

// NewService creates a Service for root.
func NewService(run Runner, root string, m *metrics.Manager, log *slog.Logger) *Service {
	if m == nil {
		m = metrics.NoOpManager()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{run: run, root: root, metrics: m, log: log.With("component", "tools")}
}

// Root returns the project root the service answers for.
func (s *Service) Root() string { return s.root }

// Recall returns the records most relevant to query. limit <= 0 uses the
// configured default. Errors are always *memerr.Error.
func (s *Service) Recall(ctx context.Context, query string, limit int) (*RecallResponse, error) {
	resp := &RecallResponse{Results: []RecallResult{}}
	err := s.run.Do(ctx, s.root, func(ctx context.Context, e *engine.Engine) error {
		hits, err := e.Recall(ctx, query, limit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			resp.Results = append(resp.Results, RecallResult{
				ID:    h.Record.ID,
				Title: h.Record.Title,
				Score: h.Score,
				Body:  h.Record.Body,
			})
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("recall", err)
	}
	return resp, nil
}

// Memorize stores title and body. Declines are successful responses; the
// error is reserved for operational failures.
func (s *Service) Memorize(ctx context.Context, title, body string) (*MemorizeResponse, error) {
	if strings.TrimSpace(body) == "" {
		return &MemorizeResponse{Declined: "empty body"}, nil
	}
	var resp *MemorizeResponse
	err := s.run.Do(ctx, s.root, func(ctx context.Context, e *engine.Engine) error {
		res, err := e.Memorize(ctx, title, body)
		if err != nil {
			return err
		}
		if res.Action == model.ActionDeclined {
			resp = &MemorizeResponse{Declined: res.Declined}
			return nil
		}
		resp = &MemorizeResponse{ID: res.ID, Action: string(res.Action)}
		return nil
	})
	if err != nil {
		merr := memerr.Classify("memorize", err)
		if merr.Kind == memerr.Declined {
			return &MemorizeResponse{Declined: merr.Reason}, nil
		}
		return nil, s.fail("memorize", err)
	}
	return resp, nil
}

func (s *Service) fail(op string, err error) *memerr.Error {
	merr := memerr.Classify(op, err)
	s.metrics.RecordError(op, merr.Kind.String())
	if errors.Is(err, context.Canceled) {
		s.log.Debug("call cancelled", "op", op)
	} else {
		s.log.Error("call failed", "op", op, "reason", merr.Reason, "err", err)
	}
	return merr
}
