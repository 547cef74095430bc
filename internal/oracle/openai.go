package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
)

const systemPrompt = `You maintain a project's long-term memory notes.
Compare a NEW note with an EXISTING note and answer with a JSON object:
{"verdict": "merge" | "distinct" | "duplicate", "merged_title": string, "merged_text": string, "reason": string}

- "duplicate": NEW adds no information beyond EXISTING.
- "merge": NEW refines or extends the same topic. Put the combined body in merged_text, keeping every fact from both notes.
- "distinct": NEW is about a different topic.
Only fill merged_title and merged_text for "merge".`

// OpenAI asks a chat-completion model for the verdict.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewOpenAI creates an OpenAI-backed oracle.
func NewOpenAI(cfg Config, log *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai oracle: API key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if log == nil {
		log = slog.Default()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		log:     log.With("component", "oracle", "provider", "openai"),
	}, nil
}

func (o *OpenAI) Judge(ctx context.Context, c Candidate, existing *model.Record) (*Judgement, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %w", memerr.ErrOracle, err)
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(c, existing)},
		},
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %w", memerr.ErrOracle, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no response choices returned", memerr.ErrOracle)
	}

	j, err := parseJudgement(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	o.log.Debug("oracle verdict", "existing", existing.ID, "verdict", j.Verdict,
		"tokens", resp.Usage.TotalTokens, "elapsed", time.Since(start))
	return j, nil
}

func userPrompt(c Candidate, existing *model.Record) string {
	var sb strings.Builder
	sb.WriteString("EXISTING title: ")
	sb.WriteString(existing.Title)
	sb.WriteString("\nEXISTING body:\n")
	sb.WriteString(existing.Body)
	sb.WriteString("\n\nNEW title: ")
	sb.WriteString(c.Title)
	sb.WriteString("\nNEW body:\n")
	sb.WriteString(c.Body)
	return sb.String()
}

var errBadVerdict = errors.New("oracle: invalid verdict")

func parseJudgement(content string) (*Judgement, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var j Judgement
	if err := json.Unmarshal([]byte(content), &j); err != nil {
		return nil, fmt.Errorf("%w: decode verdict: %w", memerr.ErrOracle, err)
	}
	j.Verdict = model.Verdict(strings.ToLower(strings.TrimSpace(string(j.Verdict))))
	if !j.Verdict.Valid() {
		return nil, fmt.Errorf("%w: %w %q", memerr.ErrOracle, errBadVerdict, j.Verdict)
	}
	if j.Verdict != model.VerdictMerge {
		j.MergedText, j.MergedTitle = "", ""
	}
	return &j, nil
}
