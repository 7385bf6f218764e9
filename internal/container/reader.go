// Package container treats a zip-shaped byte source as a read-only
// filesystem (spec.md §4.2). It supports Stored, Deflate, and zstd
// compression methods, and streams file contents on demand instead of
// materializing the whole archive: opening a file only ever costs the
// (already-fetched) central directory plus the requested range.
package container

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/carton-run/carton/internal/bytesource"
	"github.com/carton-run/carton/internal/cartonerr"
)

// zstdMethod is the (non-standard but widely used) zip compression method
// id for Zstandard-compressed entries.
const zstdMethod = 93

func init() {
	zip.RegisterDecompressor(zstdMethod, func(r io.Reader) io.ReadCloser {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(&errReader{err})
		}
		return zr.IOReadCloser()
	})
}

type errReader struct{ err error }

func (e *errReader) Read(p []byte) (int, error) { return 0, e.err }

// readerAtAdapter turns a bytesource.ByteSource into an io.ReaderAt for
// archive/zip, which requires random access but no context threading.
type readerAtAdapter struct {
	src bytesource.ByteSource
	ctx context.Context
}

func (r *readerAtAdapter) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.src.ReadAt(r.ctx, p, off)
	if err != nil {
		if n == len(p) {
			return n, nil
		}
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Reader presents a zip byte source as a read-only afero.Fs. The zip
// central directory is parsed once, lazily, on Open.
type Reader struct {
	src  bytesource.ByteSource
	zr   *zip.Reader
	byPath map[string]*zip.File

	mu sync.Mutex
}

// Open parses the central directory of src and returns a ready Reader.
func Open(ctx context.Context, src bytesource.ByteSource) (*Reader, error) {
	size, err := src.Size(ctx)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(&readerAtAdapter{src: src, ctx: ctx}, size)
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindFormat, "not a valid zip container", err)
	}
	byPath := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byPath[strings.TrimSuffix(f.Name, "/")] = f
	}
	return &Reader{src: src, zr: zr, byPath: byPath}, nil
}

// Files returns every entry name, unsorted, as stored in the zip.
func (r *Reader) Files() []string {
	out := make([]string, 0, len(r.byPath))
	for name := range r.byPath {
		out = append(out, name)
	}
	return out
}

// Has reports whether path is present in the archive.
func (r *Reader) Has(p string) bool {
	_, ok := r.byPath[cleanPath(p)]
	return ok
}

// Close releases the underlying byte source (an open file descriptor, an
// HTTP client's pooled connection, or an object store session).
func (r *Reader) Close() error {
	return r.src.Close()
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// --- afero.Fs ---

func (r *Reader) Name() string { return "carton.container.Reader" }

func (r *Reader) Open(name string) (afero.File, error) {
	return r.OpenFile(name, os.O_RDONLY, 0)
}

func (r *Reader) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag != os.O_RDONLY {
		return nil, afero.ErrFileNotFound
	}
	clean := cleanPath(name)
	if clean == "" {
		return &dirFile{r: r, name: ""}, nil
	}
	if f, ok := r.byPath[clean]; ok {
		if strings.HasSuffix(f.Name, "/") {
			return &dirFile{r: r, name: clean}, nil
		}
		rc, err := f.Open()
		if err != nil {
			return nil, cartonerr.Wrap(cartonerr.KindFormat, "opening zip entry "+name, err)
		}
		return &entryFile{name: clean, zf: f, rc: rc, info: zipFileInfo{f}}, nil
	}
	// Might be an implicit directory (no explicit entry, only children).
	if r.hasChildren(clean) {
		return &dirFile{r: r, name: clean}, nil
	}
	return nil, os.ErrNotExist
}

func (r *Reader) hasChildren(dir string) bool {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	for name := range r.byPath {
		if strings.HasPrefix(name, prefix) && name != dir {
			return true
		}
	}
	return false
}

func (r *Reader) Stat(name string) (os.FileInfo, error) {
	clean := cleanPath(name)
	if clean == "" {
		return dirInfo{name: "/"}, nil
	}
	if f, ok := r.byPath[clean]; ok {
		if strings.HasSuffix(f.Name, "/") {
			return dirInfo{name: path.Base(clean)}, nil
		}
		return zipFileInfo{f}, nil
	}
	if r.hasChildren(clean) {
		return dirInfo{name: path.Base(clean)}, nil
	}
	return nil, os.ErrNotExist
}

func (r *Reader) List(dir string) ([]os.FileInfo, error) {
	clean := cleanPath(dir)
	prefix := clean
	if prefix != "" {
		prefix += "/"
	}
	seenDirs := map[string]bool{}
	var out []os.FileInfo
	for name, f := range r.byPath {
		if !strings.HasPrefix(name, prefix) || name == clean {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			sub := rest[:idx]
			if !seenDirs[sub] {
				seenDirs[sub] = true
				out = append(out, dirInfo{name: sub})
			}
			continue
		}
		if strings.HasSuffix(f.Name, "/") {
			if !seenDirs[rest] {
				seenDirs[rest] = true
				out = append(out, dirInfo{name: rest})
			}
			continue
		}
		out = append(out, zipFileInfo{f})
	}
	return out, nil
}

func (r *Reader) Create(name string) (afero.File, error)               { return nil, afero.ErrFileNotFound }
func (r *Reader) Mkdir(name string, perm os.FileMode) error            { return afero.ErrFileNotFound }
func (r *Reader) MkdirAll(path string, perm os.FileMode) error         { return afero.ErrFileNotFound }
func (r *Reader) Remove(name string) error                             { return afero.ErrFileNotFound }
func (r *Reader) RemoveAll(path string) error                          { return afero.ErrFileNotFound }
func (r *Reader) Rename(oldname, newname string) error                 { return afero.ErrFileNotFound }
func (r *Reader) Chmod(name string, mode os.FileMode) error            { return afero.ErrFileNotFound }
func (r *Reader) Chown(name string, uid, gid int) error                { return afero.ErrFileNotFound }
func (r *Reader) Chtimes(name string, atime, mtime time.Time) error    { return afero.ErrFileNotFound }

// zipFileInfo adapts *zip.File to os.FileInfo.
type zipFileInfo struct{ f *zip.File }

func (z zipFileInfo) Name() string       { return path.Base(strings.TrimSuffix(z.f.Name, "/")) }
func (z zipFileInfo) Size() int64        { return int64(z.f.UncompressedSize64) }
func (z zipFileInfo) Mode() os.FileMode  { return 0o444 }
func (z zipFileInfo) ModTime() time.Time { return z.f.Modified }
func (z zipFileInfo) IsDir() bool        { return strings.HasSuffix(z.f.Name, "/") }
func (z zipFileInfo) Sys() interface{}   { return z.f }

type dirInfo struct{ name string }

func (d dirInfo) Name() string       { return d.name }
func (d dirInfo) Size() int64        { return 0 }
func (d dirInfo) Mode() os.FileMode  { return os.ModeDir | 0o555 }
func (d dirInfo) ModTime() time.Time { return time.Time{} }
func (d dirInfo) IsDir() bool        { return true }
func (d dirInfo) Sys() interface{}   { return nil }

// entryFile is a streaming, read-only afero.File over one zip entry. The
// underlying decompressor is forward-only, so Seek reopens the entry from
// the start whenever it needs to move backward.
type entryFile struct {
	name string
	zf   *zip.File
	rc   io.ReadCloser
	info os.FileInfo
	off  int64
}

func (e *entryFile) Close() error                               { return e.rc.Close() }
func (e *entryFile) Read(p []byte) (int, error)                 { n, err := e.rc.Read(p); e.off += int64(n); return n, err }
func (e *entryFile) ReadAt(p []byte, off int64) (int, error) {
	return 0, cartonerr.New(cartonerr.KindFormat, "container entries do not support ReadAt; use container.Reader.ReadRange")
}

// Seek supports io.SeekStart only, which is all vfsrpc's chunked reads
// ever issue. Moving forward discards bytes from the open stream; moving
// backward reopens the entry and discards from position zero.
func (e *entryFile) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, cartonerr.New(cartonerr.KindFormat, "container entries only support io.SeekStart")
	}
	if offset < 0 {
		return 0, cartonerr.New(cartonerr.KindFormat, "negative seek offset")
	}
	if offset == e.off {
		return e.off, nil
	}
	if offset < e.off {
		if err := e.rc.Close(); err != nil {
			return 0, cartonerr.Wrap(cartonerr.KindFormat, "reopening zip entry for backward seek", err)
		}
		rc, err := e.zf.Open()
		if err != nil {
			return 0, cartonerr.Wrap(cartonerr.KindFormat, "reopening zip entry for backward seek", err)
		}
		e.rc = rc
		e.off = 0
	}
	n, err := io.CopyN(io.Discard, e.rc, offset-e.off)
	e.off += n
	if err != nil && err != io.EOF {
		return e.off, cartonerr.Wrap(cartonerr.KindFormat, "seeking within zip entry", err)
	}
	return e.off, nil
}
func (e *entryFile) Write(p []byte) (int, error)                    { return 0, afero.ErrFileNotFound }
func (e *entryFile) WriteAt(p []byte, off int64) (int, error)       { return 0, afero.ErrFileNotFound }
func (e *entryFile) Name() string                                   { return e.name }
func (e *entryFile) Readdir(count int) ([]os.FileInfo, error)       { return nil, os.ErrInvalid }
func (e *entryFile) Readdirnames(n int) ([]string, error)           { return nil, os.ErrInvalid }
func (e *entryFile) Stat() (os.FileInfo, error)                     { return e.info, nil }
func (e *entryFile) Sync() error                                    { return nil }
func (e *entryFile) Truncate(size int64) error                      { return afero.ErrFileNotFound }
func (e *entryFile) WriteString(s string) (int, error)              { return 0, afero.ErrFileNotFound }

// dirFile is a directory handle supporting Readdir only.
type dirFile struct {
	r    *Reader
	name string
}

func (d *dirFile) Close() error               { return nil }
func (d *dirFile) Read(p []byte) (int, error) { return 0, io.EOF }
func (d *dirFile) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }
func (d *dirFile) Seek(offset int64, whence int) (int64, error) { return 0, nil }
func (d *dirFile) Write(p []byte) (int, error)              { return 0, afero.ErrFileNotFound }
func (d *dirFile) WriteAt(p []byte, off int64) (int, error) { return 0, afero.ErrFileNotFound }
func (d *dirFile) Name() string                             { return d.name }
func (d *dirFile) Readdir(count int) ([]os.FileInfo, error) { return d.r.List(d.name) }
func (d *dirFile) Readdirnames(n int) ([]string, error) {
	infos, err := d.r.List(d.name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.Name()
	}
	return out, nil
}
func (d *dirFile) Stat() (os.FileInfo, error)        { return d.r.Stat(d.name) }
func (d *dirFile) Sync() error                       { return nil }
func (d *dirFile) Truncate(size int64) error         { return afero.ErrFileNotFound }
func (d *dirFile) WriteString(s string) (int, error) { return 0, afero.ErrFileNotFound }

// ReadRange fully reads at most maxBytes of one entry starting at offset,
// decompressing from the start of the stream as needed. This is the path
// used to serve small, partial reads of large artifacts without ever
// decompressing the whole entry into memory when offset is 0.
func (r *Reader) ReadRange(name string, offset int64, maxBytes int) ([]byte, error) {
	f, ok := r.byPath[cleanPath(name)]
	if !ok {
		return nil, os.ErrNotExist
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if offset > 0 {
		if _, err := io.CopyN(io.Discard, rc, offset); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
	}
	buf := &bytes.Buffer{}
	if _, err := io.CopyN(buf, rc, int64(maxBytes)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf.Bytes(), nil
}
