package registry

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// Registry is the concurrent, copy-on-write view over installed runners
// (spec.md §5: "the runner registry is a concurrent map with copy-on-write
// reloads"). Reads never block on a Reintern in progress; they simply see
// the previous snapshot until the new one is published.
type Registry struct {
	log       zerolog.Logger
	runnerDir string
	catalogURL string
	installer *Installer

	snapshot atomic.Pointer[[]types.InstalledRunner]
}

func New(log zerolog.Logger, runnerDir, catalogURL string, client *http.Client) *Registry {
	r := &Registry{
		log:        log,
		runnerDir:  runnerDir,
		catalogURL: catalogURL,
		installer:  NewInstaller(client, runnerDir),
	}
	empty := []types.InstalledRunner{}
	r.snapshot.Store(&empty)
	return r
}

// Reintern re-runs discovery and publishes a fresh snapshot atomically.
// Existing readers holding a prior snapshot are unaffected.
func (r *Registry) Reintern() error {
	found, err := Discover(r.log, r.runnerDir)
	if err != nil {
		return err
	}
	r.snapshot.Store(&found)
	return nil
}

func (r *Registry) installed() []types.InstalledRunner {
	p := r.snapshot.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Installed returns the current snapshot of installed runners, for status
// and listing endpoints.
func (r *Registry) Installed() []types.InstalledRunner {
	return r.installed()
}

// InstallFromCatalog fetches the remote catalog, selects the entry
// matching req, installs it, and reinterns before returning. Unlike
// Resolve, it always talks to the remote catalog rather than preferring a
// local match, since callers use it for the explicit "install this
// runner" operation (spec.md §4.6).
func (r *Registry) InstallFromCatalog(ctx context.Context, req Request) (*types.InstalledRunner, error) {
	if r.catalogURL == "" {
		return nil, cartonerr.New(cartonerr.KindRegistryNoMatch, "no remote catalog is configured")
	}
	catalog, err := FetchCatalog(ctx, r.installer.client, r.catalogURL)
	if err != nil {
		return nil, err
	}
	entry, err := SelectRemote(req, catalog)
	if err != nil {
		return nil, err
	}
	installed, err := r.installer.Install(ctx, *entry)
	if err != nil {
		return nil, err
	}
	if err := r.Reintern(); err != nil {
		r.log.Warn().Err(err).Msg("reintern after install failed; using freshly installed runner directly")
	}
	return installed, nil
}

// Resolve implements the §4.10 state machine's candidate resolution
// step: try the local snapshot first; on a miss, fetch the remote
// catalog, select a match, install it (deduplicated across concurrent
// callers), and reintern before returning the freshly installed runner.
func (r *Registry) Resolve(ctx context.Context, req Request) (*types.InstalledRunner, error) {
	if best, err := SelectLocal(req, r.installed()); err == nil {
		return best, nil
	}

	if r.catalogURL == "" {
		return nil, cartonerr.New(cartonerr.KindRegistryNoMatch, "no local runner matches and no remote catalog is configured")
	}

	catalog, err := FetchCatalog(ctx, r.installer.client, r.catalogURL)
	if err != nil {
		return nil, err
	}
	entry, err := SelectRemote(req, catalog)
	if err != nil {
		return nil, err
	}

	installed, err := r.installer.Install(ctx, *entry)
	if err != nil {
		return nil, err
	}
	if err := r.Reintern(); err != nil {
		r.log.Warn().Err(err).Msg("reintern after install failed; using freshly installed runner directly")
	}
	return installed, nil
}
