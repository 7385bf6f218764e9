// Command cartonctl is a thin CLI wrapper over pkg/carton: pack, inspect,
// load, and run inference against cartons without going through cartond.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cartonctl",
		Short:         "Inspect, pack, load, and run cartons from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("runner-dir", "", "Runner install directory (default CARTON_RUNNER_DIR or ~/.carton/runners)")
	root.PersistentFlags().String("catalog-url", "", "Remote runner catalog URL (default CARTON_CATALOG_URL)")
	root.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")

	root.AddCommand(
		buildInfoCmd(),
		buildLoadCmd(),
		buildInferCmd(),
		buildPackCmd(),
		buildRunnerCmd(),
		buildCompletionCmd(root),
	)
	return root
}

func buildCompletionCmd(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	cmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenBashCompletion(os.Stdout)
	}})
	cmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenZshCompletion(os.Stdout)
	}})
	cmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenFishCompletion(os.Stdout, true)
	}})
	cmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(os.Stdout)
	}})
	return cmd
}
