package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/carton-run/carton/pkg/carton"
	"github.com/carton-run/carton/pkg/types"
)

func buildInferCmd() *cobra.Command {
	var inputPath string
	unpacked := false
	cmd := &cobra.Command{
		Use:   "infer <uri>",
		Short: "Load a carton, run inference once against JSON input, print JSON output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(inputPath)
			if err != nil {
				return err
			}
			var wire map[string]types.WireTensorJSON
			if err := json.Unmarshal(raw, &wire); err != nil {
				return fmt.Errorf("decoding input tensors: %w", err)
			}
			inputs, err := carton.TensorsFromJSON(wire)
			if err != nil {
				return err
			}

			c, err := newCarton(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			opts := loadOptsFromFlags(cmd)

			var model *carton.Model
			if unpacked {
				model, err = c.LoadUnpacked(ctx, args[0], opts)
			} else {
				model, err = c.Load(ctx, args[0], opts)
			}
			if err != nil {
				return err
			}
			defer model.Close()

			outputs, err := model.Infer(ctx, inputs)
			if err != nil {
				return err
			}
			outWire, err := carton.TensorsToJSON(outputs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(outWire)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "-", "Path to a JSON file of input tensors, or - for stdin")
	cmd.Flags().BoolVar(&unpacked, "unpacked", false, "Treat <uri> as an unpacked source directory")
	addLoadFlags(cmd)
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
