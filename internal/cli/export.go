package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every memory as a JSON array in creation order. Pipe into import to copy a project's memories.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	b, err := openBackend(false)
	if err != nil {
		exitErr("export", err)
	}
	defer b.close()

	var recs []*model.Record
	err = b.do(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
		recs, err = e.Export(ctx)
		return err
	})
	if err != nil {
		b.fail("export", err)
	}

	out, _ := json.MarshalIndent(recs, "", "  ")
	fmt.Println(string(out))
}
