package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-mcp/internal/consolidate"
	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/lifecycle"
	"github.com/rcliao/memory-mcp/internal/logging"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/oracle"
	"github.com/rcliao/memory-mcp/internal/retrieval"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	norm := keyword.DefaultOptions()
	factory := func(ctx context.Context, root string) (*engine.Engine, error) {
		return engine.Open(ctx, engine.Options{
			Root:           root,
			MaxRecordBytes: 2048,
			Keywords:       norm,
			Retrieval:      retrieval.Options{DefaultLimit: 5, MaxLimit: 50, MinScore: 0.1},
			Consolidation:  consolidate.Options{MergeThreshold: 0.3},
		}, oracle.NewHeuristic(keyword.New(norm)), nil, nil)
	}
	mgr := lifecycle.NewManager(factory, lifecycle.Options{StateDir: t.TempDir()}, nil, nil)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return NewService(mgr, t.TempDir(), nil, nil)
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text, res.IsError
}

func TestServiceMemorizeAndRecall(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Memorize(ctx, "db schema", "Users table has columns id, name, email")
	require.NoError(t, err)
	assert.Equal(t, "created", resp.Action)
	assert.NotEmpty(t, resp.ID)
	assert.Empty(t, resp.Declined)

	got, err := svc.Recall(ctx, "users table columns", 0)
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, resp.ID, got.Results[0].ID)
	assert.Equal(t, "db schema", got.Results[0].Title)
	assert.Greater(t, got.Results[0].Score, 0.0)

	dup, err := svc.Memorize(ctx, "db schema", "Users table has columns id, name, email")
	require.NoError(t, err)
	assert.Equal(t, "duplicate of "+resp.ID, dup.Declined)
	assert.Empty(t, dup.Action)
}

func TestServiceRecallEmpty(t *testing.T) {
	svc := newTestService(t)

	got, err := svc.Recall(context.Background(), "nothing stored yet", 3)
	require.NoError(t, err)
	assert.NotNil(t, got.Results)
	assert.Empty(t, got.Results)
}

func TestServiceDeclines(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Memorize(ctx, "t", "   ")
	require.NoError(t, err)
	assert.Equal(t, "empty body", resp.Declined)

	resp, err = svc.Memorize(ctx, "big", strings.Repeat("x", 4096))
	require.NoError(t, err)
	assert.Equal(t, "size limit exceeded", resp.Declined)
}

type failingRunner struct{ err error }

func (f failingRunner) Do(context.Context, string, func(context.Context, *engine.Engine) error) error {
	return f.err
}

func TestServiceClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   memerr.Kind
		reason string
	}{
		{"timeout", fmt.Errorf("%w after 2m: %w", memerr.ErrTimeout, context.DeadlineExceeded), memerr.Operational, "timeout exceeded"},
		{"locked", fmt.Errorf("%w (pid 42)", memerr.ErrLocked), memerr.Operational, "project is served by another process"},
		{"io", fmt.Errorf("write: %w: disk full", memerr.ErrStoreUnavailable), memerr.Operational, "memory store unavailable"},
		{"raw", errors.New("boom"), memerr.Operational, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(failingRunner{tt.err}, "/p", nil, logging.Discard().Logger)

			_, err := svc.Recall(context.Background(), "q", 1)
			var merr *memerr.Error
			require.ErrorAs(t, err, &merr)
			assert.Equal(t, tt.kind, merr.Kind)
			assert.Equal(t, tt.reason, merr.Reason)

			_, err = svc.Memorize(context.Background(), "t", "body")
			require.ErrorAs(t, err, &merr)
			assert.Equal(t, tt.reason, merr.Reason)
		})
	}
}

func TestMemorizeDeclineErrorBecomesResponse(t *testing.T) {
	svc := NewService(failingRunner{memerr.Decline("store.write", "size limit exceeded", memerr.ErrTooLarge)}, "/p", nil, nil)

	resp, err := svc.Memorize(context.Background(), "t", "body")
	require.NoError(t, err)
	assert.Equal(t, "size limit exceeded", resp.Declined)
}

func TestToolHandlers(t *testing.T) {
	srv := NewServer(newTestService(t), nil, nil)

	text, isErr := callTool(t, srv.handleMemorize, map[string]any{"title": "auth", "body": "Sessions are stored in redis with a 24h TTL"})
	require.False(t, isErr, text)
	var mem MemorizeResponse
	require.NoError(t, json.Unmarshal([]byte(text), &mem))
	assert.Equal(t, "created", mem.Action)

	text, isErr = callTool(t, srv.handleRecall, map[string]any{"query": "redis sessions", "limit": float64(2)})
	require.False(t, isErr, text)
	var rec RecallResponse
	require.NoError(t, json.Unmarshal([]byte(text), &rec))
	require.Len(t, rec.Results, 1)
	assert.Equal(t, mem.ID, rec.Results[0].ID)
	assert.Contains(t, text, `"body":"Sessions are stored in redis with a 24h TTL"`)
}

func TestToolHandlersRejectBadArguments(t *testing.T) {
	srv := NewServer(newTestService(t), nil, nil)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    string
	}{
		{"missing query", srv.handleRecall, map[string]any{}, `missing required argument "query"`},
		{"blank query", srv.handleRecall, map[string]any{"query": "  "}, `must not be empty`},
		{"fractional limit", srv.handleRecall, map[string]any{"query": "x", "limit": 1.5}, `non-negative integer`},
		{"string limit", srv.handleRecall, map[string]any{"query": "x", "limit": "3"}, `must be a number`},
		{"missing body", srv.handleMemorize, map[string]any{"title": "t"}, `missing required argument "body"`},
		{"numeric title", srv.handleMemorize, map[string]any{"title": 3.0, "body": "b"}, `must be a string`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := callTool(t, tt.handler, tt.args)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestMemorizeToolReportsDecline(t *testing.T) {
	srv := NewServer(newTestService(t), nil, nil)

	text, isErr := callTool(t, srv.handleMemorize, map[string]any{"title": "t", "body": ""})
	assert.False(t, isErr)
	assert.JSONEq(t, `{"declined":"empty body"}`, text)
}

func TestOperationalErrorHidesCause(t *testing.T) {
	svc := NewService(failingRunner{fmt.Errorf("open /secret/path: %w", memerr.ErrStoreUnavailable)}, "/p", nil, logging.Discard().Logger)
	srv := NewServer(svc, nil, nil)

	text, isErr := callTool(t, srv.handleRecall, map[string]any{"query": "x"})
	assert.True(t, isErr)
	assert.Equal(t, "operational: memory store unavailable", text)
}

func TestSetLogLevelTool(t *testing.T) {
	logger := logging.Discard()
	srv := NewServer(newTestService(t), logger, nil)

	text, isErr := callTool(t, srv.handleSetLogLevel, map[string]any{"level": "DEBUG"})
	require.False(t, isErr, text)
	assert.JSONEq(t, `{"level":"debug"}`, text)

	text, isErr = callTool(t, srv.handleSetLogLevel, map[string]any{"level": "DISABLE"})
	require.False(t, isErr, text)
	assert.Equal(t, "disable", logger.Level())

	_, isErr = callTool(t, srv.handleSetLogLevel, map[string]any{"level": "LOUD"})
	assert.True(t, isErr)
}

func TestServerOverJSONRPC(t *testing.T) {
	srv := NewServer(newTestService(t), logging.Discard(), nil)
	ctx := context.Background()

	send := func(msg string) map[string]any {
		t.Helper()
		out := srv.MCP().HandleMessage(ctx, json.RawMessage(msg))
		b, err := json.Marshal(out)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		return m
	}

	send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`)

	list := send(`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`)
	result, ok := list["result"].(map[string]any)
	require.True(t, ok, "tools/list: %v", list)
	var names []string
	for _, tool := range result["tools"].([]any) {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{RecallToolName, MemorizeToolName, LogLevelToolName}, names)

	call := send(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"memorize_memory_tool","arguments":{"title":"build","body":"Run make lint before pushing"}}}`)
	b, _ := json.Marshal(call["result"])
	assert.Contains(t, string(b), `\"action\":\"created\"`)
}
