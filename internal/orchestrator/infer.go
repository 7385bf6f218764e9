package orchestrator

import (
	"context"
	"fmt"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/ipc"
	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// Infer sends inputs inline and returns the runner's output tensors in a
// single round trip (spec.md §6.2's one-shot infer path).
func (in *Instance) Infer(ctx context.Context, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	if cerr := checkSymbolBinding(in.Info.Inputs, inputs); cerr != nil {
		return nil, cerr.WithModel(in.ManifestSHA256)
	}
	wireInputs, err := toWireMap(inputs)
	if err != nil {
		return nil, err
	}
	var resp ipc.InferResponse
	req := ipc.InferRequest{Tensors: wireInputs}
	if err := in.process.Channel.Call(ctx, ipc.ChannelRpc, ipc.KindInfer, req, &resp); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindInferRunnerError, "infer call failed", err).WithModel(in.ManifestSHA256)
	}
	return fromWireMap(resp.Tensors)
}

// Seal pre-stages a tensor map on the runner side and returns an opaque
// handle; later InferSealed calls reference it instead of re-sending the
// same tensors (spec.md §6.2's two-phase interface, for repeated calls
// against a fixed set of large inputs).
func (in *Instance) Seal(ctx context.Context, inputs map[string]tensor.Tensor) (uint64, error) {
	if cerr := checkSymbolBinding(in.Info.Inputs, inputs); cerr != nil {
		return 0, cerr.WithModel(in.ManifestSHA256)
	}
	wireInputs, err := toWireMap(inputs)
	if err != nil {
		return 0, err
	}
	var resp ipc.SealResponse
	if err := in.process.Channel.Call(ctx, ipc.ChannelRpc, ipc.KindSeal, ipc.SealRequest{Tensors: wireInputs}, &resp); err != nil {
		return 0, cartonerr.Wrap(cartonerr.KindInferRunnerError, "seal call failed", err).WithModel(in.ManifestSHA256)
	}
	return resp.Handle, nil
}

// InferSealed runs inference against a previously sealed handle.
func (in *Instance) InferSealed(ctx context.Context, handle uint64) (map[string]tensor.Tensor, error) {
	var resp ipc.InferResponse
	req := ipc.InferRequest{SealHandle: &handle}
	if err := in.process.Channel.Call(ctx, ipc.ChannelRpc, ipc.KindInfer, req, &resp); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindInferRunnerError, "sealed infer call failed", err).WithModel(in.ManifestSHA256)
	}
	return fromWireMap(resp.Tensors)
}

// GetInfo asks the live runner for its own view of the loaded model's
// CartonInfo, used to cross-check against the parent's carton.toml parse.
func (in *Instance) GetInfo(ctx context.Context) (ipc.GetInfoResponse, error) {
	var resp ipc.GetInfoResponse
	err := in.process.Channel.Call(ctx, ipc.ChannelRpc, ipc.KindGetInfo, ipc.GetInfoRequest{}, &resp)
	return resp, err
}

func toWireMap(tensors map[string]tensor.Tensor) (map[string]ipc.WireTensor, error) {
	out := make(map[string]ipc.WireTensor, len(tensors))
	for name, t := range tensors {
		t := t
		w, err := ipc.ToWire(&t, false, 0)
		if err != nil {
			return nil, cartonerr.Wrap(cartonerr.KindInferInputMismatch, "encoding input tensor "+name, err)
		}
		out[name] = w
	}
	return out, nil
}

func fromWireMap(wire map[string]ipc.WireTensor) (map[string]tensor.Tensor, error) {
	out := make(map[string]tensor.Tensor, len(wire))
	for name, w := range wire {
		var resolvedShared []byte
		if w.Shared != nil {
			return nil, cartonerr.New(cartonerr.KindIpcProtocolError,
				"output tensor "+name+" referenced shared memory over a stdio transport that does not support it")
		}
		t, err := ipc.FromWire(w, resolvedShared)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// checkSymbolBinding checks inputs against the shape symbols declared in
// specs (spec.md §8 scenario 5: two inputs sharing a symbol like "batch"
// must agree on that dimension's actual size). Inputs with no matching
// spec, or specs with ShapeAny, are not constrained. Declaration-time
// consistency of the symbol table itself is manifest.validateSymbolBinding's
// job; this checks the actual tensors a real Infer/Seal call carries.
func checkSymbolBinding(specs []types.TensorSpec, inputs map[string]tensor.Tensor) *cartonerr.Error {
	bySpec := make(map[string]types.TensorSpec, len(specs))
	for _, s := range specs {
		bySpec[s.Name] = s
	}

	boundDims := make(map[string]uint64)
	boundShapes := make(map[string][]uint64)

	for name, t := range inputs {
		spec, ok := bySpec[name]
		if !ok {
			continue
		}
		switch spec.Shape.Tag {
		case types.ShapeAny:
			continue
		case types.ShapeSymbolicWhole:
			sym := spec.Shape.WholeSymbol
			if sym == types.AnySymbol {
				continue
			}
			if prev, seen := boundShapes[sym]; seen {
				if !equalShapes(prev, t.Shape) {
					return cartonerr.New(cartonerr.KindInferInputMismatch,
						fmt.Sprintf("shape symbol %q bound to conflicting shapes on input %q", sym, name))
				}
			} else {
				boundShapes[sym] = t.Shape
			}
		case types.ShapeSequence:
			if len(t.Shape) != len(spec.Shape.Dims) {
				return cartonerr.New(cartonerr.KindInferInputMismatch,
					fmt.Sprintf("input %q has rank %d, model declares rank %d", name, len(t.Shape), len(spec.Shape.Dims)))
			}
			for i, dim := range spec.Shape.Dims {
				actual := t.Shape[i]
				switch dim.Kind {
				case types.DimFixed:
					if actual != dim.Fixed {
						return cartonerr.New(cartonerr.KindInferInputMismatch,
							fmt.Sprintf("input %q dimension %d is %d, model declares fixed size %d", name, i, actual, dim.Fixed))
					}
				case types.DimSymbol:
					if dim.Symbol == types.AnySymbol {
						continue
					}
					if prev, seen := boundDims[dim.Symbol]; seen {
						if prev != actual {
							return cartonerr.New(cartonerr.KindInferInputMismatch,
								fmt.Sprintf("shape symbol %q bound to %d and %d across inputs", dim.Symbol, prev, actual))
						}
					} else {
						boundDims[dim.Symbol] = actual
					}
				case types.DimAny:
					continue
				}
			}
		}
	}
	return nil
}

func equalShapes(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
