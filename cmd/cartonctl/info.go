package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carton-run/carton/pkg/types"
)

func formatShapeKind(s types.ShapeKind) string {
	switch s.Tag {
	case types.ShapeAny:
		return "[...]"
	case types.ShapeSymbolicWhole:
		return s.WholeSymbol
	case types.ShapeSequence:
		parts := make([]string, len(s.Dims))
		for i, d := range s.Dims {
			switch d.Kind {
			case types.DimFixed:
				parts[i] = fmt.Sprintf("%d", d.Fixed)
			case types.DimSymbol:
				parts[i] = d.Symbol
			default:
				parts[i] = "*"
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "?"
	}
}

func buildInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <uri>",
		Short: "Print a carton's metadata without loading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCarton(cmd)
			if err != nil {
				return err
			}
			info, err := c.GetModelInfo(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name:        %s\n", info.ModelName)
			if info.ShortDescription != "" {
				fmt.Printf("description: %s\n", info.ShortDescription)
			}
			if info.License != "" {
				fmt.Printf("license:     %s\n", info.License)
			}
			fmt.Printf("runner:      %s (framework %s, compat v%d)\n",
				info.Runner.RunnerName, info.Runner.RequiredFrameworkVersion, info.Runner.RunnerCompatVersion)
			if len(info.RequiredPlatforms) > 0 {
				fmt.Printf("platforms:   %v\n", info.RequiredPlatforms)
			}
			fmt.Println("inputs:")
			for _, in := range info.Inputs {
				fmt.Printf("  %-16s %s %s\n", in.Name, in.DType, formatShapeKind(in.Shape))
			}
			fmt.Println("outputs:")
			for _, out := range info.Outputs {
				fmt.Printf("  %-16s %s %s\n", out.Name, out.DType, formatShapeKind(out.Shape))
			}
			if len(info.SelfTests) > 0 {
				fmt.Printf("self_tests:  %d\n", len(info.SelfTests))
			}
			return nil
		},
	}
}
