package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rcliao/memory-mcp/internal/codec"
	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("raw", false, "Print the record file as stored")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	raw, _ := cmd.Flags().GetBool("raw")

	b, err := openBackend(false)
	if err != nil {
		exitErr("get", err)
	}
	defer b.close()

	var rec *model.Record
	err = b.do(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
		rec, err = e.Get(ctx, args[0])
		return err
	})
	if err != nil {
		b.fail("get", err)
	}

	if raw {
		data, err := codec.Encode(rec)
		if err != nil {
			b.fail("encode", err)
		}
		fmt.Print(string(data))
		return
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	fmt.Println(string(out))
}
