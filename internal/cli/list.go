package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, most recently updated first",
		Run:   runList,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
	cmd.Flags().Bool("ids-only", false, "Only output record ids")
	cmd.Flags().BoolP("long", "L", false, "Include bodies and keywords")

	RootCmd.AddCommand(cmd)
}

// listEntry is the summary shape printed by list.
type listEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Keywords  int    `json:"keywords"`
	Size      string `json:"size"`
	UpdatedAt string `json:"updated"`
}

func runList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")
	long, _ := cmd.Flags().GetBool("long")

	b, err := openBackend(false)
	if err != nil {
		exitErr("list", err)
	}
	defer b.close()

	var recs []*model.Record
	err = b.do(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
		recs, err = e.List(ctx)
		return err
	})
	if err != nil {
		b.fail("list", err)
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	switch {
	case idsOnly:
		for _, r := range recs {
			fmt.Println(r.ID)
		}
	case long:
		out, _ := json.MarshalIndent(recs, "", "  ")
		fmt.Println(string(out))
	default:
		entries := make([]listEntry, 0, len(recs))
		for _, r := range recs {
			entries = append(entries, listEntry{
				ID:        r.ID,
				Title:     strings.TrimSpace(r.Title),
				Keywords:  len(r.Keywords),
				Size:      humanize.Bytes(uint64(r.SizeBytes)),
				UpdatedAt: humanize.RelTime(r.UpdatedAt, time.Now(), "ago", "from now"),
			})
		}
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(out))
	}
}
