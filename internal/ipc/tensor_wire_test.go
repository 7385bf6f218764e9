package ipc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

func TestToWireFromWireNumericRoundTrip(t *testing.T) {
	tt := &tensor.Tensor{
		DType:   types.DTypeFloat32,
		Shape:   []uint64{2},
		Storage: tensor.NewInlineStorage([]byte{1, 2, 3, 4, 5, 6, 7, 8}),
	}
	w, err := ToWire(tt, false, 0)
	require.NoError(t, err)
	require.Nil(t, w.Shared)
	require.Equal(t, tt.Storage.Bytes(), w.Bytes)

	back, err := FromWire(w, nil)
	require.NoError(t, err)
	require.Equal(t, tt.Storage.Bytes(), back.Storage.Bytes())
}

func TestToWireStringTensorCopiesContents(t *testing.T) {
	tt := &tensor.Tensor{DType: types.DTypeString, Shape: []uint64{2}, Strings: []string{"a", "b"}}
	w, err := ToWire(tt, true, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, w.Strings)
	require.Nil(t, w.Shared)
}

func TestFromWireSharedRequiresResolvedBytes(t *testing.T) {
	w := WireTensor{DType: types.DTypeFloat32, Shape: []uint64{1}, Shared: &SharedMemoryRef{FdID: 1, Length: 4}}
	_, err := FromWire(w, nil)
	require.Error(t, err)

	_, err = FromWire(w, make([]byte, 4))
	require.NoError(t, err)
}

func TestToWireNestedTensor(t *testing.T) {
	inner := tensor.Tensor{DType: types.DTypeString, Shape: []uint64{1}, Strings: []string{"x"}}
	outer := &tensor.Tensor{DType: types.DTypeNested, Shape: []uint64{1}, Nested: []tensor.Tensor{inner}}
	w, err := ToWire(outer, false, 0)
	require.NoError(t, err)
	require.Len(t, w.Nested, 1)
	require.Equal(t, []string{"x"}, w.Nested[0].Strings)
}

// TestToWireFromWireNestedRoundTrip round-trips a two-level nested tensor
// through wire form. The nesting makes a field-by-field require.Equal
// unwieldy, so this compares the reconstructed tree with go-cmp instead.
func TestToWireFromWireNestedRoundTrip(t *testing.T) {
	original := &tensor.Tensor{
		DType: types.DTypeNested,
		Shape: []uint64{2},
		Nested: []tensor.Tensor{
			{DType: types.DTypeFloat32, Shape: []uint64{2}, Storage: tensor.NewInlineStorage([]byte{0, 0, 128, 63, 0, 0, 0, 64})},
			{DType: types.DTypeString, Shape: []uint64{2}, Strings: []string{"a", "b"}},
		},
	}

	w, err := ToWire(original, false, 0)
	require.NoError(t, err)

	back, err := FromWire(w, nil)
	require.NoError(t, err)

	opt := cmp.Comparer(func(a, b tensor.Storage) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return cmp.Equal(a.Bytes(), b.Bytes())
	})
	if diff := cmp.Diff(original, &back, opt); diff != "" {
		t.Fatalf("nested tensor round trip mismatch (-want +got):\n%s", diff)
	}
}
