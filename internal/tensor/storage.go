// Package tensor implements the typed N-dimensional array abstraction
// used to carry model inputs/outputs (spec.md §3, §4.5): numeric tensors
// backed by inline, shared-memory, or borrowed storage, string tensors
// as an owned slice of strings, and nested tensors as a slice of
// non-nested inner tensors.
package tensor

// StorageKind distinguishes how a numeric tensor's bytes are held.
type StorageKind int

const (
	StorageInline StorageKind = iota
	StorageSharedMemory
	StorageBorrowed
)

// Storage is the byte-level backing of a numeric tensor.
type Storage interface {
	Kind() StorageKind
	// Bytes returns the tensor's raw little-endian bytes. The returned
	// slice must not be retained past a call to Release.
	Bytes() []byte
	// Release returns the storage to its origin: an inline allocation is
	// returned to the process-wide pool (internal/tensor.Pool); a
	// shared-memory segment decrements its refcount and unmaps at zero;
	// a borrowed storage invokes its deleter callback exactly once.
	Release()
}

// InlineStorage is an owned heap allocation, optionally backed by the
// process-wide allocation reuse pool.
type InlineStorage struct {
	buf  []byte
	pool *Pool // nil if not pool-backed
}

func NewInlineStorage(buf []byte) *InlineStorage { return &InlineStorage{buf: buf} }

func (s *InlineStorage) Kind() StorageKind { return StorageInline }
func (s *InlineStorage) Bytes() []byte     { return s.buf }
func (s *InlineStorage) Release() {
	if s.pool != nil {
		s.pool.Put(s.buf)
		s.buf = nil
	}
}

// BorrowedStorage is a non-owning view into caller memory. The deleter is
// invoked exactly once, on Release, and must not be nil.
type BorrowedStorage struct {
	buf     []byte
	deleter func()
	freed   bool
}

func NewBorrowedStorage(buf []byte, deleter func()) *BorrowedStorage {
	return &BorrowedStorage{buf: buf, deleter: deleter}
}

func (s *BorrowedStorage) Kind() StorageKind { return StorageBorrowed }
func (s *BorrowedStorage) Bytes() []byte     { return s.buf }
func (s *BorrowedStorage) Release() {
	if !s.freed {
		s.freed = true
		s.deleter()
	}
}
