package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rescan the store and rebuild the keyword index",
		Long: "Rescan every record file, repair stale keyword sets, remove leftover temp files\n" +
			"and rebuild the index. With --verify, also check the index against the store.",
		Run: runReindex,
	}

	cmd.Flags().Bool("verify", false, "Verify index consistency after rebuilding")

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	verify, _ := cmd.Flags().GetBool("verify")

	b, err := openBackend(false)
	if err != nil {
		exitErr("reindex", err)
	}
	defer b.close()

	var res *store.ScanResult
	err = b.do(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
		if res, err = e.Reload(ctx); err != nil {
			return err
		}
		if verify {
			return e.Verify(ctx)
		}
		return nil
	})
	if err != nil {
		b.fail("reindex", err)
	}

	out, _ := json.MarshalIndent(struct {
		Records int `json:"records"`
		*store.ScanResult
		Verified bool `json:"verified,omitempty"`
	}{len(res.Records), res, verify}, "", "  ")
	fmt.Println(string(out))
}
