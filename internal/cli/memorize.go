package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rcliao/memory-mcp/internal/tools"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "memorize [body]",
		Short: "Store a memory",
		Long:  "Store a memory through the consolidation policy. Body can be a positional arg or piped via stdin.",
		Run:   runMemorize,
	}

	cmd.Flags().StringP("title", "t", "", "Title (default: first line of the body)")

	RootCmd.AddCommand(cmd)
}

func runMemorize(cmd *cobra.Command, args []string) {
	title, _ := cmd.Flags().GetString("title")

	var body string
	if len(args) > 0 {
		body = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			body = string(data)
		}
	}
	if strings.TrimSpace(body) == "" {
		exitErr("memorize", fmt.Errorf("body is required (positional arg or stdin)"))
	}

	b, err := openBackend(false)
	if err != nil {
		exitErr("memorize", err)
	}
	defer b.close()

	resp, err := tools.NewService(b.mgr, b.root, b.metrics, b.logger.Logger).Memorize(cmd.Context(), title, body)
	if err != nil {
		b.fail("memorize", err)
	}

	out, _ := json.Marshal(resp)
	fmt.Println(string(out))
}
