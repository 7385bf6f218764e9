package carton

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validCartonToml = `
spec_version = 1

[package]
name = "noop-doubler"

[[input]]
name = "x"
dtype = "float32"
shape_kind = "sequence"
dims = ["batch", "3"]

[[output]]
name = "out"
dtype = "float32"
shape_kind = "sequence"
dims = ["batch", "3"]

[runner]
runner_name = "noop"
required_framework_version = ">=1.0.0"
runner_compat_version = 1
`

func writeTestCarton(t *testing.T, path string) {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "carton.toml", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte(validCartonToml))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestGetModelInfo_ReadsCartonToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.carton")
	writeTestCarton(t, path)

	c, err := New(WithRunnerDir(t.TempDir()))
	require.NoError(t, err)

	info, err := c.GetModelInfo(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "noop-doubler", info.ModelName)
	require.Len(t, info.Inputs, 1)
	require.Equal(t, "noop", info.Runner.RunnerName)
}

func TestGetModelInfo_MissingFileErrors(t *testing.T) {
	c, err := New(WithRunnerDir(t.TempDir()))
	require.NoError(t, err)
	_, err = c.GetModelInfo(context.Background(), filepath.Join(t.TempDir(), "nope.carton"))
	require.Error(t, err)
}

func TestOpenURI_DispatchesByScheme(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.carton")
	writeTestCarton(t, path)

	src, err := openURI(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	src, err = openURI(context.Background(), "file://"+path)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = openURI(context.Background(), "s3://bucket-only")
	require.Error(t, err)
}

func TestNew_DiscoversFromEmptyRunnerDir(t *testing.T) {
	c, err := New(WithRunnerDir(t.TempDir()))
	require.NoError(t, err)
	require.Empty(t, c.ListInstalledRunners())
}
