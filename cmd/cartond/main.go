package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/config"
	"github.com/carton-run/carton/internal/httpapi"
	"github.com/carton-run/carton/internal/manager"
	"github.com/carton-run/carton/internal/orchestrator"
	"github.com/carton-run/carton/internal/registry"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to carton config file (.toml/.yaml/.json)")
	addr := flag.String("addr", "", "HTTP listen address, e.g. :8080 (overrides config/env)")
	runnerDir := flag.String("runner-dir", "", "Directory holding installed runner binaries (overrides config/env)")
	budgetMB := flag.Int("budget-mb", 0, "Resource budget in MB for all instances (0=unlimited)")
	marginMB := flag.Int("margin-mb", 0, "Reserved margin in MB to keep free")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if *runnerDir != "" {
		cfg.RunnerDir = *runnerDir
	}
	if *budgetMB != 0 {
		cfg.BudgetMB = *budgetMB
	}
	if *marginMB != 0 {
		cfg.MarginMB = *marginMB
	}
	if cfg.RunnerDataDir != "" {
		// Spawned runner subprocesses inherit the daemon's environment;
		// setting it here propagates a config-file value to them the same
		// way an operator-set env var would.
		os.Setenv("CARTON_RUNNER_DATA_DIR", cfg.RunnerDataDir)
	}
	httpapi.SetLogger(log)
	if cfg.InferTimeoutSeconds > 0 {
		httpapi.SetInferTimeoutSeconds(cfg.InferTimeoutSeconds)
	}

	reg := registry.New(log, cfg.RunnerDir, cfg.CatalogURL, http.DefaultClient)
	if err := reg.Reintern(); err != nil {
		log.Warn().Err(err).Msg("initial runner discovery failed; starting with an empty registry")
	}
	loader := orchestrator.NewLoader(log, reg)
	mgr := manager.NewWithConfig(loader, manager.ManagerConfig{
		BudgetMB: cfg.BudgetMB,
		MarginMB: cfg.MarginMB,
	})

	mux := httpapi.NewMux(mgr)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("runner_dir", cfg.RunnerDir).Msg("cartond listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
}
