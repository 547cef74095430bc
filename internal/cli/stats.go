package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store and index statistics",
		Run:   runStats,
	}

	cmd.Flags().BoolP("human", "H", false, "Human-readable text instead of JSON")

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	human, _ := cmd.Flags().GetBool("human")

	b, err := openBackend(false)
	if err != nil {
		exitErr("stats", err)
	}
	defer b.close()

	var st *engine.Stats
	err = b.do(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
		st, err = e.Stats(ctx)
		return err
	})
	if err != nil {
		b.fail("stats", err)
	}

	if !human {
		out, _ := json.MarshalIndent(struct {
			*engine.Stats
			State string `json:"state"`
		}{st, b.mgr.State(b.root).String()}, "", "  ")
		fmt.Println(string(out))
		return
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "project:    %s\n", st.Root)
	fmt.Fprintf(w, "store:      %s\n", st.Store.Dir)
	fmt.Fprintf(w, "records:    %s (%s total, largest %s)\n",
		humanize.Comma(int64(st.Store.Records)),
		humanize.Bytes(uint64(st.Store.TotalBytes)),
		humanize.Bytes(uint64(st.Store.LargestBytes)))
	fmt.Fprintf(w, "keywords:   %s (%s postings)\n",
		humanize.Comma(int64(st.Index.Keywords)), humanize.Comma(int64(st.Index.Postings)))
	if !st.Store.Newest.IsZero() {
		fmt.Fprintf(w, "updated:    %s\n", humanize.RelTime(st.Store.Newest, time.Now(), "ago", "from now"))
	}
	if st.Store.Unreadable > 0 {
		fmt.Fprintf(w, "unreadable: %d\n", st.Store.Unreadable)
		for _, warn := range st.Warnings {
			fmt.Fprintf(w, "  %s: %s\n", warn.Path, warn.Err)
		}
	}
}
