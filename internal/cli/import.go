package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import memories from JSON",
		Long:  "Import memories from JSON (stdin or file). Expects the format produced by export; existing ids are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	recs, err := decodeRecords(data)
	if err != nil {
		exitErr("parse json", err)
	}

	b, err := openBackend(false)
	if err != nil {
		exitErr("import", err)
	}
	defer b.close()

	var imported, skipped int
	err = b.do(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
		imported, skipped, err = e.Import(ctx, recs)
		return err
	})
	if err != nil {
		b.fail("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d,"skipped":%d}`+"\n", imported, skipped)
}

// decodeRecords parses an export array, dropping null entries.
func decodeRecords(data []byte) ([]*model.Record, error) {
	var recs []*model.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, err
	}
	return slices.DeleteFunc(recs, func(r *model.Record) bool { return r == nil }), nil
}
