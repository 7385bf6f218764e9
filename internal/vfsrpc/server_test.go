package vfsrpc

import (
	"archive/zip"
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/carton-run/carton/internal/bytesource"
	"github.com/carton-run/carton/internal/container"
	"github.com/carton-run/carton/internal/ipc"
	"github.com/carton-run/carton/internal/overlayfs"
)

// memByteSource is a minimal in-memory bytesource.ByteSource, just enough
// to hand a zip buffer to container.Open in these tests.
type memByteSource struct{ b []byte }

func (m memByteSource) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	if offset >= int64(len(m.b)) {
		return 0, bytesource.OutOfRange(offset, int64(len(m.b)))
	}
	return copy(p, m.b[offset:]), nil
}
func (m memByteSource) Size(ctx context.Context) (int64, error) { return int64(len(m.b)), nil }
func (m memByteSource) Close() error                             { return nil }

func buildTestZip(t *testing.T, entryName string, contents []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: entryName, Method: zip.Deflate})
	require.NoError(t, err)
	_, err = w.Write(contents)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newServerClientPair(t *testing.T, fs afero.Fs) *Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	serverChan := ipc.NewChannel(serverConn, zerolog.Nop())
	clientChan := ipc.NewChannel(clientConn, zerolog.Nop())
	t.Cleanup(func() { serverChan.Close(); clientChan.Close() })

	NewServer(fs, serverChan)
	return NewClient(clientChan)
}

func TestVfsrpcOpenReadClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "model/weights.bin", []byte("0123456789"), 0o644))

	client := newServerClientPair(t, fs)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	handle, err := client.Open(ctx, "model/weights.bin")
	require.NoError(t, err)

	data, err := client.ReadAll(ctx, handle, 2, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("23456"), data)

	require.NoError(t, client.Close(ctx, handle))
}

func TestVfsrpcOpenMissingFileReturnsError(t *testing.T) {
	fs := afero.NewMemMapFs()
	client := newServerClientPair(t, fs)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := client.Open(ctx, "nope.bin")
	require.Error(t, err)
}

func TestVfsrpcMetadataAndList(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "misc/a.png", []byte("xy"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "misc/b.png", []byte("z"), 0o644))

	client := newServerClientPair(t, fs)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	meta, err := client.Metadata(ctx, "misc/a.png")
	require.NoError(t, err)
	require.EqualValues(t, 2, meta.Size)
	require.False(t, meta.IsDir)

	entries, err := client.List(ctx, "misc")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestVfsrpcReadOnUnknownHandleErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	client := newServerClientPair(t, fs)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := client.ReadAll(ctx, 999, 0, 10)
	require.Error(t, err)
}

// TestVfsrpcReadFromContainerBackedOverlay drives FsOpen/FsRead against an
// overlay whose bottom filesystem is a real container.Reader (a zip, not
// an in-memory afero.Fs), the shape a loaded model's own filesystem
// actually has. This exercises entryFile.Seek's backward-seek reopen
// path, which the in-memory-fs tests above never touch.
func TestVfsrpcReadFromContainerBackedOverlay(t *testing.T) {
	contents := []byte("0123456789abcdefghij")
	data := buildTestZip(t, "model/weights.bin", contents)
	reader, err := container.Open(context.Background(), memByteSource{data})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	overlay := overlayfs.New(afero.NewMemMapFs(), reader)
	client := newServerClientPair(t, overlay)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	handle, err := client.Open(ctx, "model/weights.bin")
	require.NoError(t, err)

	// forward read
	got, err := client.ReadAll(ctx, handle, 10, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("abcde"), got)

	// backward seek to offset 0 forces entryFile.Seek to reopen the entry
	got, err = client.ReadAll(ctx, handle, 0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("0123"), got)

	require.NoError(t, client.Close(ctx, handle))
}

func TestVfsrpcCloseUnknownHandleIsNoOp(t *testing.T) {
	fs := afero.NewMemMapFs()
	client := newServerClientPair(t, fs)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, client.Close(ctx, 12345))
}
