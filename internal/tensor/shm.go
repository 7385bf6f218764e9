//go:build !windows

package tensor

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/carton-run/carton/internal/cartonerr"
)

// SharedMemorySegment is an anonymous, size-rounded memory-mapped region
// that can be handed to a runner subprocess by file descriptor and
// mapped independently on both sides (spec.md §4.5: "anonymous memory
// object, mapped by sender, file descriptor sent to peer, mapped by
// receiver"). No third-party shared-memory library appears anywhere in
// the retrieval pack, so this is built directly on syscall.Mmap, the
// same primitive every mmap-based library in the ecosystem wraps.
type SharedMemorySegment struct {
	mu       sync.Mutex
	file     *os.File
	data     []byte
	refCount int
}

// NewSharedMemorySegment allocates a fresh anonymous-backed segment of at
// least size bytes, rounded up to the OS page size.
func NewSharedMemorySegment(size int) (*SharedMemorySegment, error) {
	if size < 0 {
		return nil, cartonerr.New(cartonerr.KindFormat, "negative shared memory size")
	}
	pageSize := os.Getpagesize()
	rounded := ((size + pageSize - 1) / pageSize) * pageSize
	if rounded == 0 {
		rounded = pageSize
	}

	f, err := os.CreateTemp("", "carton-shm-*")
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindIntegrity, "creating shared memory backing file", err)
	}
	// The file is unlinked immediately: the fd (and later, an fd sent to
	// a runner subprocess) is the only thing keeping the pages alive.
	_ = os.Remove(f.Name())

	if err := f.Truncate(int64(rounded)); err != nil {
		f.Close()
		return nil, cartonerr.Wrap(cartonerr.KindIntegrity, "sizing shared memory segment", err)
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, rounded, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, cartonerr.Wrap(cartonerr.KindIntegrity, "mmap shared memory segment", err)
	}
	return &SharedMemorySegment{file: f, data: data, refCount: 1}, nil
}

// OpenSharedMemorySegment maps an existing segment received from a peer
// over a file descriptor already duplicated into this process (see
// internal/ipc, which carries the fd alongside the RPC frame).
func OpenSharedMemorySegment(fd uintptr, size int) (*SharedMemorySegment, error) {
	f := os.NewFile(fd, "carton-shm-peer")
	if f == nil {
		return nil, cartonerr.New(cartonerr.KindIntegrity, "invalid shared memory file descriptor")
	}
	data, err := syscall.Mmap(int(fd), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, cartonerr.Wrap(cartonerr.KindIntegrity, "mmap peer shared memory segment", err)
	}
	return &SharedMemorySegment{file: f, data: data, refCount: 1}, nil
}

// Fd returns the underlying file descriptor, to be sent to a peer
// process alongside an IPC message referencing this segment.
func (s *SharedMemorySegment) Fd() uintptr { return s.file.Fd() }

// Bytes returns the full mapped region.
func (s *SharedMemorySegment) Bytes() []byte { return s.data }

// Retain increments the holder count. Every Retain must be paired with a
// Release; the mapping is torn down when the count reaches zero
// (spec.md §3: "shared-memory tensors remain valid until all holders
// drop their reference").
func (s *SharedMemorySegment) Retain() {
	s.mu.Lock()
	s.refCount++
	s.mu.Unlock()
}

func (s *SharedMemorySegment) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount--
	if s.refCount > 0 {
		return
	}
	if s.data != nil {
		_ = syscall.Munmap(s.data)
		s.data = nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

// SharedMemoryStorage is a Storage view into a byte range of a
// SharedMemorySegment. Multiple tensors may reference disjoint or
// overlapping ranges of the same segment; the segment itself is
// refcounted independently of any one Storage.
type SharedMemoryStorage struct {
	seg          *SharedMemorySegment
	offset, size int
}

func NewSharedMemoryStorage(seg *SharedMemorySegment, offset, size int) (*SharedMemoryStorage, error) {
	if offset < 0 || size < 0 || offset+size > len(seg.Bytes()) {
		return nil, cartonerr.New(cartonerr.KindFormat, fmt.Sprintf("shared memory range [%d:%d] out of bounds", offset, offset+size))
	}
	seg.Retain()
	return &SharedMemoryStorage{seg: seg, offset: offset, size: size}, nil
}

func (s *SharedMemoryStorage) Kind() StorageKind { return StorageSharedMemory }
func (s *SharedMemoryStorage) Bytes() []byte     { return s.seg.Bytes()[s.offset : s.offset+s.size] }
func (s *SharedMemoryStorage) Release()          { s.seg.Release() }
