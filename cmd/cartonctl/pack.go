package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/common/fsutil"
	"github.com/carton-run/carton/internal/manifest"
	"github.com/carton-run/carton/pkg/types"
)

func buildPackCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "pack <source-dir>",
		Short: "Pack a source directory's carton.toml and tensor_data/ into a carton file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceDir, err := fsutil.ExpandHome(args[0])
			if err != nil {
				return err
			}
			if !fsutil.PathExists(sourceDir) {
				return cartonerr.New(cartonerr.KindFormatMissingEntry, "source directory does not exist: "+sourceDir)
			}
			tomlBytes, err := os.ReadFile(filepath.Join(sourceDir, "carton.toml"))
			if err != nil {
				return cartonerr.Wrap(cartonerr.KindFormatMissingEntry, "reading carton.toml", err)
			}
			info, err := manifest.ParseCartonToml(tomlBytes)
			if err != nil {
				return err
			}

			if outputPath == "" {
				outputPath = info.ModelName + ".carton"
			}

			c, err := newCarton(cmd)
			if err != nil {
				return err
			}
			out, err := c.Pack(context.Background(), sourceDir, outputPath, types.PackOpts{Info: *info})
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output .carton path (default <name>.carton)")
	return cmd
}
