// Package overlayfs implements spec.md §4.3: a by-hash HTTP-backed
// filesystem that resolves manifest paths to LINKS URLs, and an overlay
// that consults the container filesystem first, falling back to the
// by-hash filesystem on NotFound.
package overlayfs

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/carton-run/carton/internal/cartonerr"
)

// HashFS resolves a manifest path to its declared sha256, looks up
// fetchable URLs for that hash in a LinksFile, and serves bytes over
// HTTP, decoding content-encoding transparently.
type HashFS struct {
	// Manifest maps normalized path -> hex sha256, as parsed from the
	// carton's MANIFEST file.
	Manifest map[string]string
	Links    *LinksFile
	Client   *http.Client
	Log      zerolog.Logger
}

// NewHashFS constructs a HashFS. client may be nil to use http.DefaultClient.
func NewHashFS(manifest map[string]string, links *LinksFile, client *http.Client, log zerolog.Logger) *HashFS {
	if client == nil {
		client = http.DefaultClient
	}
	return &HashFS{Manifest: manifest, Links: links, Client: client, Log: log}
}

func (h *HashFS) Name() string { return "carton.overlayfs.HashFS" }

// Open fetches path's bytes from the first working LINKS URL and
// verifies the decoded content against the manifest hash. A mismatch
// fails with cartonerr.KindIntegrity at read time (spec.md §4.3 invariant).
func (h *HashFS) Open(p string) (afero.File, error) {
	hash, ok := h.Manifest[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	urls := h.Links.URLsFor(hash)
	if len(urls) == 0 {
		return nil, os.ErrNotExist
	}
	var lastErr error
	for _, url := range urls {
		data, err := h.fetchAndVerify(context.Background(), url, hash)
		if err != nil {
			lastErr = err
			h.Log.Warn().Str("url", url).Err(err).Msg("linked file fetch failed, trying next mirror")
			continue
		}
		return &memFile{name: p, r: bytes.NewReader(data)}, nil
	}
	return nil, lastErr
}

func (h *HashFS) fetchAndVerify(ctx context.Context, url, expectedHash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindByteSource, "building request", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindByteSource, "fetching linked file", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, cartonerr.New(cartonerr.KindByteSource, "linked file mirror returned "+resp.Status)
	}
	body, err := decodeContentEncoding(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindByteSource, "decoding content-encoding", err)
	}
	sum := sha256.New()
	data, err := io.ReadAll(io.TeeReader(body, sum))
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindByteSource, "reading linked file body", err)
	}
	got := hex.EncodeToString(sum.Sum(nil))
	if got != expectedHash {
		return nil, cartonerr.New(cartonerr.KindIntegrity, "linked file hash mismatch: expected "+expectedHash+" got "+got)
	}
	return data, nil
}

// decodeContentEncoding transparently decodes gzip/deflate/br; zstd is
// decoded explicitly by the same call since Go's net/http never sets
// Accept-Encoding: zstd automatically (spec.md §4.3).
func decodeContentEncoding(body io.Reader, encoding string) (io.Reader, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		return gzip.NewReader(body)
	case "deflate":
		return flate.NewReader(body), nil
	case "br":
		return brotli.NewReader(body), nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, cartonerr.New(cartonerr.KindByteSource, "unsupported content-encoding: "+encoding)
	}
}

// --- minimal afero.File over an in-memory buffer ---

type memFile struct {
	name string
	r    *bytes.Reader
}

func (m *memFile) Close() error                                 { return nil }
func (m *memFile) Read(p []byte) (int, error)                   { return m.r.Read(p) }
func (m *memFile) ReadAt(p []byte, off int64) (int, error)       { return m.r.ReadAt(p, off) }
func (m *memFile) Seek(offset int64, whence int) (int64, error)  { return m.r.Seek(offset, whence) }
func (m *memFile) Write(p []byte) (int, error)                   { return 0, afero.ErrFileNotFound }
func (m *memFile) WriteAt(p []byte, off int64) (int, error)      { return 0, afero.ErrFileNotFound }
func (m *memFile) Name() string                                  { return m.name }
func (m *memFile) Readdir(count int) ([]os.FileInfo, error)      { return nil, os.ErrInvalid }
func (m *memFile) Readdirnames(n int) ([]string, error)          { return nil, os.ErrInvalid }
func (m *memFile) Stat() (os.FileInfo, error)                    { return memFileInfo{m.name, m.r.Size()}, nil }
func (m *memFile) Sync() error                                   { return nil }
func (m *memFile) Truncate(size int64) error                     { return afero.ErrFileNotFound }
func (m *memFile) WriteString(s string) (int, error)             { return 0, afero.ErrFileNotFound }

type memFileInfo struct {
	name string
	size int64
}

func (m memFileInfo) Name() string       { return m.name }
func (m memFileInfo) Size() int64        { return m.size }
func (m memFileInfo) Mode() os.FileMode  { return 0o444 }
func (m memFileInfo) ModTime() time.Time { return time.Time{} }
func (m memFileInfo) IsDir() bool        { return false }
func (m memFileInfo) Sys() interface{}   { return nil }

// Stat implements afero.Fs by opening and stat-ing (LINKS files are small
// metadata-wise; this is not on the hot path for large weight files).
func (h *HashFS) Stat(name string) (os.FileInfo, error) {
	f, err := h.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

func (h *HashFS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return h.Open(name)
}
func (h *HashFS) Create(name string) (afero.File, error)            { return nil, afero.ErrFileNotFound }
func (h *HashFS) Mkdir(name string, perm os.FileMode) error         { return afero.ErrFileNotFound }
func (h *HashFS) MkdirAll(path string, perm os.FileMode) error      { return afero.ErrFileNotFound }
func (h *HashFS) Remove(name string) error                          { return afero.ErrFileNotFound }
func (h *HashFS) RemoveAll(path string) error                       { return afero.ErrFileNotFound }
func (h *HashFS) Rename(oldname, newname string) error              { return afero.ErrFileNotFound }
func (h *HashFS) Chmod(name string, mode os.FileMode) error         { return afero.ErrFileNotFound }
func (h *HashFS) Chown(name string, uid, gid int) error             { return afero.ErrFileNotFound }
func (h *HashFS) Chtimes(name string, atime, mtime time.Time) error { return afero.ErrFileNotFound }
