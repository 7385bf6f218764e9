package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for cartond. Zero values mean
// "unspecified" and are replaced by defaults in main, after environment
// variables have been overlaid by file values.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	RunnerDir     string `json:"runner_dir" yaml:"runner_dir" toml:"runner_dir"`
	RunnerDataDir string `json:"runner_data_dir" yaml:"runner_data_dir" toml:"runner_data_dir"`
	CatalogURL    string `json:"catalog_url" yaml:"catalog_url" toml:"catalog_url"`

	BudgetMB int `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb"`
	MarginMB int `json:"margin_mb" yaml:"margin_mb" toml:"margin_mb"`

	LoadTimeoutSeconds    int64 `json:"load_timeout_seconds" yaml:"load_timeout_seconds" toml:"load_timeout_seconds"`
	InstallTimeoutSeconds int64 `json:"install_timeout_seconds" yaml:"install_timeout_seconds" toml:"install_timeout_seconds"`
	InferTimeoutSeconds   int64 `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// DefaultPath returns CARTON_CONFIG_PATH's value, or ~/.carton/config.toml
// when unset.
func DefaultPath() string {
	if p := os.Getenv("CARTON_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".carton", "config.toml")
}

// Load applies CARTON_* environment variables, then reads a configuration
// file based on its extension on top of them, so a value set in the file
// wins over the environment. Supports: .yaml/.yml, .json, .toml. A missing
// file at the default path is not an error — the caller gets the zero
// Config with only env values applied.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultPath() {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}
	applyEnv(&cfg)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// applyEnv overlays CARTON_* environment variables onto cfg. Load calls it
// before decoding the file, so the precedence is: file over env over
// defaults; explicit LoadOpts/flags, applied by the CLI/daemon after Load
// returns, win over both.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CARTON_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CARTON_RUNNER_DIR"); v != "" {
		cfg.RunnerDir = v
	}
	if v := os.Getenv("CARTON_RUNNER_DATA_DIR"); v != "" {
		cfg.RunnerDataDir = v
	}
	if v := os.Getenv("CARTON_CATALOG_URL"); v != "" {
		cfg.CatalogURL = v
	}
	if v := os.Getenv("CARTON_BUDGET_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BudgetMB = n
		}
	}
	if v := os.Getenv("CARTON_MARGIN_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MarginMB = n
		}
	}
	if v := os.Getenv("CARTON_LOAD_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LoadTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CARTON_INSTALL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.InstallTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CARTON_INFER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.InferTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CARTON_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
