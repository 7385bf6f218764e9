// Package e2e drives the full HTTP surface against a real runner
// subprocess: no mocked Instance, no net.Pipe stand-in. Load spawns an
// actual binary and speaks the real handshake/IPC protocol to it.
package e2e

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carton-run/carton/internal/httpapi"
	"github.com/carton-run/carton/internal/manager"
	"github.com/carton-run/carton/internal/manifest"
	"github.com/carton-run/carton/internal/orchestrator"
	"github.com/carton-run/carton/internal/registry"
)

const testRunnerName = "carton.fake"

// buildFakeRunnerBinary compiles testdata/fake_runner.go once per test
// binary run and returns the path to the resulting executable, the same
// build-a-fixture-binary shape the subprocess adapter tests use.
func buildFakeRunnerBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake_runner")
	if runtime.GOOS == "windows" {
		bin += ".exe"
	}
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_runner.go")
	cmd.Dir = "."
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "building fake runner: %s", string(out))
	return bin
}

// writeRunnerToml installs a single-entry runner.toml under runnerDir
// pointing at binaryPath. binaryPath must be absolute: Discover only
// joins a relative path_to_binary with the runner's directory when it
// contains no path separator.
func writeRunnerToml(t *testing.T, runnerDir, binaryPath string) {
	t.Helper()
	require.True(t, filepath.IsAbs(binaryPath), "fake runner binary path must be absolute")
	dir := filepath.Join(runnerDir, testRunnerName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	doc := "[[runner]]\n" +
		"runner_name = \"" + testRunnerName + "\"\n" +
		"framework_version = \"1.0.0\"\n" +
		"runner_compat_version = 1\n" +
		"runner_interface_version = 1\n" +
		"runner_release_date = 2026-01-01T00:00:00Z\n" +
		"path_to_binary = \"" + filepath.ToSlash(binaryPath) + "\"\n" +
		"platform = \"" + runtime.GOOS + "-" + runtime.GOARCH + "\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runner.toml"), []byte(doc), 0o644))
}

// buildCartonZip assembles a minimal, well-formed carton: a carton.toml
// requiring testRunnerName and a MANIFEST covering it, with no other
// entries since the fake runner never touches the mounted filesystem.
func buildCartonZip(t *testing.T) []byte {
	t.Helper()
	cartonToml := "spec_version = 1\n" +
		"[package]\n" +
		"name = \"echo-fixture\"\n" +
		"[runner]\n" +
		"runner_name = \"" + testRunnerName + "\"\n" +
		"runner_compat_version = 1\n" +
		"[[input]]\n" +
		"name = \"x\"\n" +
		"dtype = \"float32\"\n" +
		"shape_kind = \"any\"\n" +
		"[[output]]\n" +
		"name = \"x\"\n" +
		"dtype = \"float32\"\n" +
		"shape_kind = \"any\"\n"

	sum := sha256.Sum256([]byte(cartonToml))
	man := manifest.Build(map[string]string{
		"carton.toml": hex.EncodeToString(sum[:]),
	})

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	w, err := zw.CreateHeader(&zip.FileHeader{Name: "carton.toml", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte(cartonToml))
	require.NoError(t, err)

	w, err = zw.CreateHeader(&zip.FileHeader{Name: "MANIFEST", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write(man.Bytes())
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// testServer wires a real Registry/Loader/Manager stack around a runner
// directory populated with the fake runner, and returns a live HTTP
// server exercising the exact mux cartond mounts.
func testServer(t *testing.T, runnerDir string) *httptest.Server {
	t.Helper()
	log := zerolog.Nop()
	reg := registry.New(log, runnerDir, "", http.DefaultClient)
	require.NoError(t, reg.Reintern())

	loader := orchestrator.NewLoader(log, reg)
	mgr := manager.NewWithConfig(loader, manager.ManagerConfig{
		MaxQueueDepth: 4,
		MaxWait:       time.Second,
		DrainTimeout:  time.Second,
	})
	mux := httpapi.NewMux(mgr)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}
