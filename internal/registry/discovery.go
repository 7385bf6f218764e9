// Package registry implements runner discovery, remote catalog matching,
// version-aware selection, and singleflight-deduplicated installation
// (spec.md §4.6, §4.10).
package registry

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// rawRunnerToml mirrors one runner.toml file on disk.
type rawRunnerToml struct {
	Runner []types.RunnerDescriptor `toml:"runner"`
}

// Discover walks root looking for runner.toml files (default root:
// CARTON_RUNNER_DIR, ~/.carton/runners/ if unset), the same recursive
// walk-then-skip shape as the source implementation's discovery pass:
// once a runner.toml is found in a directory, its subdirectories are not
// descended into, since a runner's own install tree may itself contain
// nested vendored files that are not further runner roots.
func Discover(log zerolog.Logger, root string) ([]types.InstalledRunner, error) {
	var found []types.InstalledRunner

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root {
				if _, serr := os.Stat(filepath.Join(filepath.Dir(path), "runner.toml")); serr == nil {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if d.Name() != "runner.toml" {
			return nil
		}
		descs, derr := parseRunnerToml(path)
		if derr != nil {
			log.Warn().Err(derr).Str("path", path).Msg("skipping malformed runner.toml")
			return filepath.SkipDir
		}
		dir := filepath.Dir(path)
		for _, desc := range descs {
			if !strings.Contains(desc.PathToBinary, string(os.PathSeparator)) && !filepath.IsAbs(desc.PathToBinary) {
				desc.PathToBinary = filepath.Join(dir, desc.PathToBinary)
			}
			found = append(found, types.InstalledRunner{RunnerDescriptor: desc, InstallPath: dir})
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindRegistryNoMatch, "discovering runners under "+root, err)
	}
	return found, nil
}

func parseRunnerToml(path string) ([]types.RunnerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw rawRunnerToml
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw.Runner, nil
}
