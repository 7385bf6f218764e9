package carton

import (
	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// TensorFromJSON reconstructs a tensor.Tensor from its JSON wire form, the
// same conversion cartond's HTTP transport applies to request bodies —
// exported here so callers embedding this package can move tensors to and
// from JSON without depending on an internal package.
func TensorFromJSON(w types.WireTensorJSON) (tensor.Tensor, error) {
	t := tensor.Tensor{DType: w.DType, Shape: w.Shape}
	switch w.DType {
	case types.DTypeString:
		t.Strings = w.Strings
		return t, nil
	case types.DTypeNested:
		t.Nested = make([]tensor.Tensor, len(w.Nested))
		for i, inner := range w.Nested {
			nt, err := TensorFromJSON(inner)
			if err != nil {
				return tensor.Tensor{}, err
			}
			t.Nested[i] = nt
		}
		return t, nil
	default:
		if w.Data == nil {
			return tensor.Tensor{}, cartonerr.New(cartonerr.KindFormatTensorDecode, "numeric tensor missing data")
		}
		t.Storage = tensor.NewInlineStorage(w.Data)
		return t, nil
	}
}

// TensorToJSON renders a tensor.Tensor into its JSON wire form.
func TensorToJSON(t tensor.Tensor) (types.WireTensorJSON, error) {
	w := types.WireTensorJSON{DType: t.DType, Shape: t.Shape}
	switch t.DType {
	case types.DTypeString:
		w.Strings = t.Strings
		return w, nil
	case types.DTypeNested:
		w.Nested = make([]types.WireTensorJSON, len(t.Nested))
		for i := range t.Nested {
			inner, err := TensorToJSON(t.Nested[i])
			if err != nil {
				return types.WireTensorJSON{}, err
			}
			w.Nested[i] = inner
		}
		return w, nil
	default:
		if t.Storage == nil {
			return types.WireTensorJSON{}, cartonerr.New(cartonerr.KindFormatTensorDecode, "cannot render tensor with nil storage")
		}
		w.Data = append([]byte{}, t.Storage.Bytes()...)
		return w, nil
	}
}

// TensorsFromJSON converts a named map of wire tensors.
func TensorsFromJSON(in map[string]types.WireTensorJSON) (map[string]tensor.Tensor, error) {
	out := make(map[string]tensor.Tensor, len(in))
	for name, w := range in {
		t, err := TensorFromJSON(w)
		if err != nil {
			return nil, cartonerr.Wrap(cartonerr.KindInferInputMismatch, "decoding input tensor "+name, err)
		}
		out[name] = t
	}
	return out, nil
}

// TensorsToJSON converts a named map of tensors to their wire form.
func TensorsToJSON(in map[string]tensor.Tensor) (map[string]types.WireTensorJSON, error) {
	out := make(map[string]types.WireTensorJSON, len(in))
	for name, t := range in {
		w, err := TensorToJSON(t)
		if err != nil {
			return nil, err
		}
		out[name] = w
	}
	return out, nil
}
