package carton

import (
	"context"

	"github.com/carton-run/carton/internal/orchestrator"
	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// Model is a loaded carton instance, returned by Carton.Load and
// Carton.LoadUnpacked.
type Model struct {
	instance *orchestrator.Instance
}

// Infer runs one-shot inference, per spec.md §6.2's Model.infer(TensorMap).
func (m *Model) Infer(ctx context.Context, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	return m.instance.Infer(ctx, inputs)
}

// Seal begins a two-phase inference call, returning a handle to pass to
// InferSealed once the caller is ready to consume the result — spec.md
// §6.2's pipelining interface.
func (m *Model) Seal(ctx context.Context, inputs map[string]tensor.Tensor) (uint64, error) {
	return m.instance.Seal(ctx, inputs)
}

// InferSealed completes a Seal'd inference call.
func (m *Model) InferSealed(ctx context.Context, handle uint64) (map[string]tensor.Tensor, error) {
	return m.instance.InferSealed(ctx, handle)
}

// Info returns the parsed carton.toml metadata this model was loaded from.
func (m *Model) Info() types.CartonInfo { return m.instance.Info }

// ManifestSHA256 identifies this model's container by content hash; empty
// for LoadUnpacked models, which have no packed MANIFEST to hash.
func (m *Model) ManifestSHA256() string { return m.instance.ManifestSHA256 }

// PID returns the runner subprocess's process id.
func (m *Model) PID() int { return m.instance.PID() }

// Close stops the runner subprocess and releases the model's mounted
// filesystem.
func (m *Model) Close() error { return m.instance.Close() }
