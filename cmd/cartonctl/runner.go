package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carton-run/carton/internal/registry"
)

func buildRunnerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "runner", Short: "Manage installed runner binaries"}
	cmd.AddCommand(buildRunnerListCmd(), buildRunnerInstallCmd())
	return cmd
}

func buildRunnerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runners installed under the configured runner directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCarton(cmd)
			if err != nil {
				return err
			}
			installed := c.ListInstalledRunners()
			if len(installed) == 0 {
				fmt.Println("no runners installed")
				return nil
			}
			for _, r := range installed {
				fmt.Printf("%-20s framework=%-14s compat=v%-4d platform=%-16s %s\n",
					r.RunnerName, r.FrameworkVersion, r.RunnerCompatVersion, r.PlatformTriple, r.InstallPath)
			}
			return nil
		},
	}
}

func buildRunnerInstallCmd() *cobra.Command {
	var compatVersion uint64
	var frameworkVersion, platform string
	cmd := &cobra.Command{
		Use:   "install <runner-name>",
		Short: "Install a runner matching the given requirements from the configured catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCarton(cmd)
			if err != nil {
				return err
			}
			installed, err := c.InstallRunner(context.Background(), registry.Request{
				RunnerName:               args[0],
				RunnerCompatVersion:      compatVersion,
				RequiredFrameworkVersion: frameworkVersion,
				PlatformTriple:           platform,
			})
			if err != nil {
				return err
			}
			fmt.Printf("installed %s to %s\n", installed.RunnerName, installed.InstallPath)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&compatVersion, "compat-version", 0, "Required runner compat version")
	cmd.Flags().StringVar(&frameworkVersion, "framework-version", "", "Required framework version range, e.g. >=1.0.0")
	cmd.Flags().StringVar(&platform, "platform", "", "Target platform triple (default: this host's)")
	return cmd
}
