package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/tools"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the project's memory over MCP stdio",
		Long: "Serve recall_memory_tool and memorize_memory_tool over MCP on stdin/stdout.\n" +
			"The project engine starts on the first call and stops after the idle timeout.",
		Run: runServe,
	}

	cmd.Flags().Bool("eager", false, "Open the project at startup instead of on the first call")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	eager, _ := cmd.Flags().GetBool("eager")

	b, err := openBackend(true)
	if err != nil {
		exitErr("serve", err)
	}
	defer b.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if b.metrics.Enabled() {
		go func() {
			if err := b.metrics.StartServer(ctx, b.cfg.Metrics.Addr, b.cfg.Metrics.Path); err != nil {
				b.logger.Error("metrics server failed", "addr", b.cfg.Metrics.Addr, "err", err)
			}
		}()
		b.logger.Info("metrics enabled", "addr", b.cfg.Metrics.Addr, "path", b.cfg.Metrics.Path)
	}

	if eager {
		if err := b.do(ctx, func(context.Context, *engine.Engine) error { return nil }); err != nil {
			b.fail("open project", err)
		}
	}

	svc := tools.NewService(b.mgr, b.root, b.metrics, b.logger.Logger)
	srv := tools.NewServer(svc, b.logger, b.logger.Logger)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		b.logger.Error("mcp server stopped", "err", err)
	}
	b.logger.Info("shutting down", "project", b.root)
}
