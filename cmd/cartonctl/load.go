package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carton-run/carton/pkg/carton"
	"github.com/carton-run/carton/pkg/types"
)

func loadOptsFromFlags(cmd *cobra.Command) types.LoadOpts {
	runnerName, _ := cmd.Flags().GetString("runner-name")
	frameworkVersion, _ := cmd.Flags().GetString("framework-version")
	device, _ := cmd.Flags().GetString("device")
	installTimeout, _ := cmd.Flags().GetInt("install-timeout")
	loadTimeout, _ := cmd.Flags().GetInt("load-timeout")
	return types.LoadOpts{
		OverrideRunnerName:               runnerName,
		OverrideRequiredFrameworkVersion: frameworkVersion,
		VisibleDevice:                    device,
		InstallTimeoutSeconds:            installTimeout,
		LoadTimeoutSeconds:               loadTimeout,
	}
}

func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().String("runner-name", "", "Override the runner named in carton.toml")
	cmd.Flags().String("framework-version", "", "Override the required framework version range")
	cmd.Flags().String("device", "", "Device to bind: cpu, a GPU index, or a GPU UUID")
	cmd.Flags().Int("install-timeout", 0, "Seconds to wait for a missing runner to install (0=default)")
	cmd.Flags().Int("load-timeout", 0, "Seconds to wait for the runner to report ready (0=default)")
}

func buildLoadCmd() *cobra.Command {
	unpacked := false
	cmd := &cobra.Command{
		Use:   "load <uri>",
		Short: "Load a carton, print its manifest identity and PID, then unload it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCarton(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			opts := loadOptsFromFlags(cmd)

			var model *Model
			if unpacked {
				model, err = c.LoadUnpacked(ctx, args[0], opts)
			} else {
				model, err = c.Load(ctx, args[0], opts)
			}
			if err != nil {
				return err
			}
			defer model.Close()

			fmt.Printf("loaded:   %s\n", model.Info().ModelName)
			if model.ManifestSHA256() != "" {
				fmt.Printf("manifest: %s\n", model.ManifestSHA256())
			}
			fmt.Printf("pid:      %d\n", model.PID())
			return nil
		},
	}
	cmd.Flags().BoolVar(&unpacked, "unpacked", false, "Treat <uri> as an unpacked source directory")
	addLoadFlags(cmd)
	return cmd
}

// Model is a type alias so load.go and infer.go can share the exported
// pkg/carton.Model name without importing it under a different name in
// every file.
type Model = carton.Model
