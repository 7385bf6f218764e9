package ipc

import (
	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// WireTensor is the on-the-wire shape of a tensor.Tensor. Numeric
// tensors either carry their bytes inline or a SharedMemoryRef when both
// peers negotiated shared-memory transfer support; string tensors always
// copy their contents (spec.md §9: never share string tensor storage
// across the IPC boundary).
type WireTensor struct {
	DType   types.DType  `cbor:"1,keyasint"`
	Shape   []uint64     `cbor:"2,keyasint"`
	Bytes   []byte       `cbor:"3,keyasint,omitempty"`
	Shared  *SharedMemoryRef `cbor:"4,keyasint,omitempty"`
	Strings []string     `cbor:"5,keyasint,omitempty"`
	Nested  []WireTensor `cbor:"6,keyasint,omitempty"`
}

// SharedMemoryRef describes a shared-memory-backed tensor: the fd is
// carried out of band (ancillary data on the Unix socket, per spec.md
// §4.7), this struct only carries the byte range within it.
type SharedMemoryRef struct {
	FdID   uint64 `cbor:"1,keyasint"`
	Offset int    `cbor:"2,keyasint"`
	Length int    `cbor:"3,keyasint"`
}

// ToWire copies t into wire form. When t's storage is shared memory,
// useSharedMemory controls whether the reference is preserved (true, if
// the peer negotiated shared-memory support) or the bytes are copied
// inline (false, the safe fallback).
func ToWire(t *tensor.Tensor, useSharedMemory bool, fdID uint64) (WireTensor, error) {
	w := WireTensor{DType: t.DType, Shape: t.Shape}
	switch t.DType {
	case types.DTypeString:
		w.Strings = append([]string{}, t.Strings...)
		return w, nil
	case types.DTypeNested:
		w.Nested = make([]WireTensor, len(t.Nested))
		for i := range t.Nested {
			inner, err := ToWire(&t.Nested[i], useSharedMemory, fdID)
			if err != nil {
				return WireTensor{}, err
			}
			w.Nested[i] = inner
		}
		return w, nil
	default:
		if t.Storage == nil {
			return WireTensor{}, cartonerr.New(cartonerr.KindFormatTensorDecode, "cannot serialize tensor with nil storage")
		}
		if useSharedMemory && t.Storage.Kind() == tensor.StorageSharedMemory {
			w.Shared = &SharedMemoryRef{FdID: fdID, Offset: 0, Length: len(t.Storage.Bytes())}
			return w, nil
		}
		w.Bytes = append([]byte{}, t.Storage.Bytes()...)
		return w, nil
	}
}

// FromWire reconstructs a tensor.Tensor from wire form. Shared-memory
// references must be resolved by the caller before calling FromWire
// (see internal/orchestrator, which owns the fd->segment mapping);
// resolvedShared, if non-nil, supplies the already-mapped bytes for
// w.Shared.
func FromWire(w WireTensor, resolvedShared []byte) (tensor.Tensor, error) {
	t := tensor.Tensor{DType: w.DType, Shape: w.Shape}
	switch w.DType {
	case types.DTypeString:
		t.Strings = w.Strings
		return t, nil
	case types.DTypeNested:
		t.Nested = make([]tensor.Tensor, len(w.Nested))
		for i := range w.Nested {
			inner, err := FromWire(w.Nested[i], nil)
			if err != nil {
				return tensor.Tensor{}, err
			}
			t.Nested[i] = inner
		}
		return t, nil
	default:
		if w.Shared != nil {
			if resolvedShared == nil {
				return tensor.Tensor{}, cartonerr.New(cartonerr.KindIpcProtocolError, "shared memory tensor reference not resolved")
			}
			t.Storage = tensor.NewBorrowedStorage(resolvedShared, func() {})
			return t, nil
		}
		t.Storage = tensor.NewInlineStorage(w.Bytes)
		return t, nil
	}
}
