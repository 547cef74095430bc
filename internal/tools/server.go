package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rcliao/memory-mcp/internal/memerr"
)

const (
	RecallToolName   = "recall_memory_tool"
	MemorizeToolName = "memorize_memory_tool"
	LogLevelToolName = "set_log_level_tool"
)

// Version is set at build time via ldflags.
var Version = "dev"

// LevelSetter changes the process log level at runtime.
type LevelSetter interface {
	SetLevel(name string) error
	Level() string
}

// Server exposes a Service as MCP tools.
type Server struct {
	svc    *Service
	levels LevelSetter
	log    *slog.Logger
	mcp    *server.MCPServer
}

// NewServer registers the tools. levels may be nil, in which case the
// log level tool is not offered.
func NewServer(svc *Service, levels LevelSetter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{svc: svc, levels: levels, log: log.With("component", "mcp")}
	s.mcp = server.NewMCPServer(
		"memory-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	s.mcp.AddTool(recallTool(), s.handleRecall)
	s.mcp.AddTool(memorizeTool(), s.handleMemorize)
	if levels != nil {
		s.mcp.AddTool(logLevelTool(), s.handleSetLogLevel)
	}
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Serve speaks MCP over in/out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.log}, "", 0))
	s.log.Info("serving MCP over stdio", "project", s.svc.Root(), "version", Version)
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

const instructions = `Project memory for this repository.
Call recall_memory_tool with a short keyword query before starting work to retrieve relevant notes.
Call memorize_memory_tool to save durable facts (decisions, conventions, schemas, gotchas). Similar notes are merged automatically and exact duplicates are declined.`

func recallTool() mcp.Tool {
	return mcp.NewTool(RecallToolName,
		mcp.WithDescription("Retrieve stored project memories relevant to a query, ranked by keyword similarity."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Keywords or a short natural-language question"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (optional)"),
		),
	)
}

func memorizeTool() mcp.Tool {
	return mcp.NewTool(MemorizeToolName,
		mcp.WithDescription("Store a project memory. Near-duplicates are merged into the existing memory; exact duplicates are declined."),
		mcp.WithString("title",
			mcp.Description("Short title; derived from the body when empty"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("The content to remember"),
		),
	)
}

func logLevelTool() mcp.Tool {
	return mcp.NewTool(LogLevelToolName,
		mcp.WithDescription("Change the server log level at runtime."),
		mcp.WithString("level",
			mcp.Required(),
			mcp.Description("DEBUG, INFO, WARN, ERROR or DISABLE"),
			mcp.Enum("DEBUG", "INFO", "WARN", "WARNING", "ERROR", "CRITICAL", "DISABLE"),
		),
	)
}

func (s *Server) handleRecall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	query, err := stringArg(args, "query", true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError(`argument "query" must not be empty`), nil
	}
	limit, err := intArg(args, "limit")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.svc.Recall(ctx, query, limit)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleMemorize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	title, err := stringArg(args, "title", false)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := stringArg(args, "body", true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.svc.Memorize(ctx, title, body)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleSetLogLevel(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level, err := stringArg(request.GetArguments(), "level", true)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.levels.SetLevel(level); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"level": s.levels.Level()})
}

func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required argument %q", name)
		}
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return str, nil
}

// intArg reads an optional integer. JSON numbers arrive as float64.
func intArg(args map[string]any, name string) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < 0 {
			return 0, fmt.Errorf("argument %q must be a non-negative integer", name)
		}
		return int(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("argument %q must be a non-negative integer", name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", name)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// errorResult reports only the classified reason; raw causes stay in the log.
func errorResult(err error) *mcp.CallToolResult {
	merr := memerr.Classify("", err)
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", merr.Kind, merr.Reason))
}

type slogWriter struct{ log *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.log.Error(strings.TrimSpace(string(p)))
	return len(p), nil
}
