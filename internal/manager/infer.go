package manager

import (
	"context"

	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// Infer admission-controls a single Infer call against the named handle:
// it waits (up to MaxWait) for a queue slot and then the single in-flight
// generation slot before delegating to orchestrator.Instance.Infer.
func (m *Manager) Infer(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	release, err := m.beginGeneration(ctx, loadID)
	defer release()
	if err != nil {
		return nil, err
	}

	h, ok := m.getHandle(loadID)
	if !ok {
		return nil, ErrHandleNotFound(loadID)
	}
	return h.instance.Infer(ctx, inputs)
}

// Pack delegates to the underlying Loader; packing is stateless with
// respect to the manager's handle table, so it needs no admission control.
func (m *Manager) Pack(ctx context.Context, sourceDir, outputPath string, opts types.PackOpts) error {
	return m.loader.Pack(ctx, sourceDir, outputPath, opts)
}
