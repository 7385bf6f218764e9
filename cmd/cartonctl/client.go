package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carton-run/carton/internal/common/fsutil"
	"github.com/carton-run/carton/pkg/carton"
)

func newLogger(cmd *cobra.Command) zerolog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	log := zerolog.New(w).With().Timestamp().Logger()
	switch level {
	case "debug":
		return log.Level(zerolog.DebugLevel)
	case "warn":
		return log.Level(zerolog.WarnLevel)
	case "error":
		return log.Level(zerolog.ErrorLevel)
	default:
		return log.Level(zerolog.InfoLevel)
	}
}

func newCarton(cmd *cobra.Command) (*carton.Carton, error) {
	runnerDir, _ := cmd.Flags().GetString("runner-dir")
	catalogURL, _ := cmd.Flags().GetString("catalog-url")

	opts := []carton.Option{carton.WithLogger(newLogger(cmd))}
	if runnerDir != "" {
		expanded, err := fsutil.ExpandHome(runnerDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, carton.WithRunnerDir(expanded))
	}
	if catalogURL != "" {
		opts = append(opts, carton.WithCatalogURL(catalogURL))
	}
	return carton.New(opts...)
}
