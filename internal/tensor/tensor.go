package tensor

import (
	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// Tensor is the runtime value carried across a load/pack/infer boundary.
// Exactly one of Storage, Strings, or Nested is populated, selected by
// DType (spec.md §3, §9): numeric dtypes use Storage, DTypeString uses
// Strings, DTypeNested uses Nested. String tensors never share storage
// across the IPC boundary — their contents are copied during encode.
type Tensor struct {
	DType   types.DType
	Shape   []uint64
	Strides []uint64 // in elements; nil means row-major contiguous

	Storage Storage  // numeric dtypes
	Strings []string // DTypeString
	Nested  []Tensor // DTypeNested; inner tensors are never themselves nested
}

// NumElements returns the product of Shape, or 1 for a scalar (empty
// shape).
func (t *Tensor) NumElements() uint64 {
	n := uint64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// RowMajorStrides computes contiguous row-major strides for shape.
func RowMajorStrides(shape []uint64) []uint64 {
	strides := make([]uint64, len(shape))
	acc := uint64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// Validate checks the shape/storage invariants from spec.md §3: the
// element count implied by Shape must match the byte length implied by
// DType.ElemSize for numeric tensors, or the length of Strings for
// string tensors, or the length of Nested for nested tensors.
func (t *Tensor) Validate() error {
	n := t.NumElements()
	switch t.DType {
	case types.DTypeString:
		if uint64(len(t.Strings)) != n {
			return cartonerr.New(cartonerr.KindFormatTensorDecode, "string tensor element count mismatch")
		}
	case types.DTypeNested:
		if uint64(len(t.Nested)) != n {
			return cartonerr.New(cartonerr.KindFormatTensorDecode, "nested tensor element count mismatch")
		}
		for i := range t.Nested {
			if t.Nested[i].DType == types.DTypeNested {
				return cartonerr.New(cartonerr.KindFormatTensorDecode, "nested tensors cannot nest more than one level")
			}
			if err := t.Nested[i].Validate(); err != nil {
				return err
			}
		}
	default:
		if t.Storage == nil {
			return cartonerr.New(cartonerr.KindFormatTensorDecode, "numeric tensor missing storage")
		}
		want := n * uint64(t.DType.ElemSize())
		if uint64(len(t.Storage.Bytes())) != want {
			return cartonerr.New(cartonerr.KindFormatTensorDecode, "tensor byte length does not match shape*elemsize")
		}
	}
	return nil
}

// Release returns any pooled or shared-memory backing storage. It is a
// no-op for string tensors. Safe to call once per Tensor; a second call
// on pool-backed storage is a caller bug.
func (t *Tensor) Release() {
	if t.Storage != nil {
		t.Storage.Release()
		t.Storage = nil
	}
	for i := range t.Nested {
		t.Nested[i].Release()
	}
}
