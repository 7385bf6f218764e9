//go:build windows

package tensor

import "github.com/carton-run/carton/internal/cartonerr"

// SharedMemorySegment on Windows is unimplemented; every path that would
// construct one returns KindIntegrity instead. Runners are spawned as
// subprocesses on Windows too, but named-mapping support (CreateFileMapping)
// is future work with no example in the retrieval pack to ground it on.
type SharedMemorySegment struct{}

func NewSharedMemorySegment(size int) (*SharedMemorySegment, error) {
	return nil, cartonerr.New(cartonerr.KindIntegrity, "shared memory tensors are not supported on windows")
}

func OpenSharedMemorySegment(fd uintptr, size int) (*SharedMemorySegment, error) {
	return nil, cartonerr.New(cartonerr.KindIntegrity, "shared memory tensors are not supported on windows")
}

func (s *SharedMemorySegment) Fd() uintptr   { return 0 }
func (s *SharedMemorySegment) Bytes() []byte { return nil }
func (s *SharedMemorySegment) Retain()       {}
func (s *SharedMemorySegment) Release()      {}

type SharedMemoryStorage struct{}

func NewSharedMemoryStorage(seg *SharedMemorySegment, offset, size int) (*SharedMemoryStorage, error) {
	return nil, cartonerr.New(cartonerr.KindIntegrity, "shared memory tensors are not supported on windows")
}

func (s *SharedMemoryStorage) Kind() StorageKind { return StorageSharedMemory }
func (s *SharedMemoryStorage) Bytes() []byte     { return nil }
func (s *SharedMemoryStorage) Release()          {}
