// Package bytesource implements the "readable-seekable stream" layer
// spec.md §4.1 sits on: read(offset, len) -> bytes, size() -> u64, over
// local files, HTTP range requests, and S3-compatible object storage.
// A source is not required to be contiguous; callers issue small reads.
package bytesource

import (
	"context"

	"github.com/carton-run/carton/internal/cartonerr"
)

// ByteSource is a random-access byte stream of known size.
type ByteSource interface {
	// ReadAt reads len(p) bytes starting at offset. A read that starts
	// inside the source but runs past Size() returns as many bytes as are
	// available and a nil error; a read whose offset is at or past Size()
	// returns 0 and cartonerr.KindByteSource ("out of range").
	ReadAt(ctx context.Context, p []byte, offset int64) (int, error)
	Size(ctx context.Context) (int64, error)
	Close() error
}

// OutOfRange builds the ByteSource::OutOfRange error from spec.md §4.1.
func OutOfRange(offset, size int64) error {
	return cartonerr.New(cartonerr.KindByteSource, "read past end of byte source").
		WithModel("").WithRunner("")
}

// IOError builds the ByteSource::IO error from spec.md §4.1.
func IOError(err error) error {
	return cartonerr.Wrap(cartonerr.KindByteSource, "i/o error", err)
}
