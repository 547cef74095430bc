package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after merging defaults, the config file, MEMORY_MCP_* variables and flags. Secrets are masked.",
		Run:   runConfig,
	}

	RootCmd.AddCommand(cmd)
}

func runConfig(cmd *cobra.Command, args []string) {
	b, err := openBackend(false)
	if err != nil {
		exitErr("config", err)
	}
	defer b.close()

	fmt.Fprintf(cmd.OutOrStdout(), "# project: %s\n", b.root)
	fmt.Fprint(cmd.OutOrStdout(), b.loader.Print())
}
