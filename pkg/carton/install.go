package carton

import (
	"context"

	"github.com/carton-run/carton/internal/registry"
	"github.com/carton-run/carton/pkg/types"
)

// InstallRunner fetches and installs a runner matching req from the
// configured remote catalog — spec.md §6.2's explicit install_runner.
func (c *Carton) InstallRunner(ctx context.Context, req registry.Request) (*types.InstalledRunner, error) {
	return c.registry.InstallFromCatalog(ctx, req)
}

// ListInstalledRunners returns every runner currently installed under the
// configured runner directory — spec.md §6.2's list_installed_runners.
func (c *Carton) ListInstalledRunners() []types.InstalledRunner {
	return c.registry.Installed()
}
