// Package cli implements the memory-mcp CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/spf13/cobra"
)

var (
	projectFlag  string
	configFlag   string
	logLevelFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memory-mcp",
	Short: "Per-project memory for coding agents",
	Long: "Keyword-indexed project memory stored as Markdown files under the project root.\n" +
		"Run `memory-mcp serve` from an MCP client; the other commands inspect and maintain the store.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "Project root (default: current directory)")
	RootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default: <project>/.memory-mcp.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error or disable")
}

func projectRoot() string {
	if projectFlag != "" {
		return projectFlag
	}
	if env := os.Getenv("MEMORY_MCP_PROJECT"); env != "" {
		return env
	}
	return "."
}

func exitErr(msg string, err error) {
	merr := memerr.Classify(msg, err)
	fmt.Fprintf(os.Stderr, "error: %s: %s: %v\n", msg, merr.Kind, err)
	os.Exit(1)
}
