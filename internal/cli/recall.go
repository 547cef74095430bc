package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/memory-mcp/internal/tools"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall memories relevant to a query",
		Long:  "Rank stored memories by keyword similarity to the query, as recall_memory_tool does.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	b, err := openBackend(false)
	if err != nil {
		exitErr("recall", err)
	}
	defer b.close()

	resp, err := tools.NewService(b.mgr, b.root, b.metrics, b.logger.Logger).Recall(cmd.Context(), query, limit)
	if err != nil {
		b.fail("recall", err)
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
}
