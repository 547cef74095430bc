package cli

import (
	"context"
	"fmt"

	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [id...]",
		Short: "Delete memories",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	b, err := openBackend(false)
	if err != nil {
		exitErr("rm", err)
	}
	defer b.close()

	for _, id := range args {
		err := b.do(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
			return e.Delete(ctx, id)
		})
		if err != nil {
			b.fail("rm "+id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", id)
	}
}
