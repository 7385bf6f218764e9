package manager

import (
	"context"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/registry"
	"github.com/carton-run/carton/pkg/types"
)

// Runners returns the current snapshot of installed runners, for the
// HTTP layer's GET /runners.
func (m *Manager) Runners() []types.InstalledRunner {
	if m.loader == nil || m.loader.Registry == nil {
		return nil
	}
	return m.loader.Registry.Installed()
}

// InstallRunner forces an install of the runner matching req from the
// remote catalog, for the HTTP layer's POST /runners/install.
func (m *Manager) InstallRunner(ctx context.Context, req registry.Request) (*types.InstalledRunner, error) {
	if m.loader == nil || m.loader.Registry == nil {
		return nil, cartonerr.New(cartonerr.KindRegistryNoMatch, "no runner registry configured")
	}
	return m.loader.Registry.InstallFromCatalog(ctx, req)
}
