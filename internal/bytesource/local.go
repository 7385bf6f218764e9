package bytesource

import (
	"context"
	"io"
	"os"
)

// LocalFile is the trivial ByteSource backed by an *os.File.
type LocalFile struct {
	f    *os.File
	size int64
}

// OpenLocal opens path for random-access reads.
func OpenLocal(path string) (*LocalFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, IOError(err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, IOError(err)
	}
	return &LocalFile{f: f, size: st.Size()}, nil
}

func (l *LocalFile) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	if offset >= l.size {
		return 0, OutOfRange(offset, l.size)
	}
	n, err := l.f.ReadAt(p, offset)
	if err != nil && err != io.EOF {
		return n, IOError(err)
	}
	return n, nil
}

func (l *LocalFile) Size(ctx context.Context) (int64, error) { return l.size, nil }

func (l *LocalFile) Close() error { return l.f.Close() }
