// Package blackbox drives a real compiled cartond binary as a subprocess
// and talks to it over HTTP, one level further out than internal/e2e's
// in-process httptest servers: this exercises flag parsing, config
// loading, and process lifecycle too.
package blackbox

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testRunnerName = "carton.fake"

func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	// this file: <root>/tests/blackbox/blackbox_test.go
	bbDir := filepath.Dir(thisFile)
	return filepath.Dir(filepath.Dir(bbDir))
}

func buildBinary(t *testing.T, root, pkg, name string) string {
	t.Helper()
	binPath := filepath.Join(t.TempDir(), name)
	cmd := exec.Command("go", "build", "-o", binPath, pkg)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "go build %s failed: %s", pkg, string(out))
	return binPath
}

// writeRunnerToml mirrors internal/e2e's fixture: a single runner.toml
// entry pointing at the fake runner binary via an absolute path.
func writeRunnerToml(t *testing.T, runnerDir, binaryPath string) {
	t.Helper()
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

func buildCartonFile(t *testing.T, dir string) string {
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
	manifestBody := "carton.toml=" + hex.EncodeToString(sum[:]) + "\n"

	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "carton.toml", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte(cartonToml))
	require.NoError(t, err)
	w, err = zw.CreateHeader(&zip.FileHeader{Name: "MANIFEST", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte(manifestBody))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, "echo.carton")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

type serverProc struct {
	cmd  *exec.Cmd
	base string
}

func startServer(t *testing.T, bin, runnerDir string, port int) *serverProc {
	t.Helper()
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cmd := exec.Command(bin, "--addr", fmt.Sprintf(":%d", port), "--runner-dir", runnerDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start())

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	sp := &serverProc{cmd: cmd, base: base}
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return sp
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postJSON(t *testing.T, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func deleteURL(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp
}

func TestBlackbox_LoadInferUnload(t *testing.T) {
	root := projectRootFromThisFile(t)
	cartondBin := buildBinary(t, root, "./cmd/cartond", "cartond")
	fakeRunnerBin := buildBinary(t, root, "./internal/e2e/testdata/fake_runner.go", "fake_runner")

	runnerDir := t.TempDir()
	writeRunnerToml(t, runnerDir, fakeRunnerBin)

	port := findFreePort(t)
	sp := startServer(t, cartondBin, runnerDir, port)

	resp, body := get(t, sp.base+"/readyz")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "body=%s", body)

	cartonPath := buildCartonFile(t, t.TempDir())
	resp, body = postJSON(t, sp.base+"/load", map[string]any{
		"source": map[string]string{"kind": "local", "path": cartonPath},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", body)
	var loadResp struct {
		LoadID string `json:"load_id"`
	}
	require.NoError(t, json.Unmarshal(body, &loadResp))
	require.NotEmpty(t, loadResp.LoadID)

	resp, body = get(t, sp.base+"/readyz")
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", body)

	resp, body = postJSON(t, sp.base+"/models/"+loadResp.LoadID+"/infer", map[string]any{
		"tensors": map[string]any{
			"x": map[string]any{"dtype": 0, "shape": []int{2}, "data": "AAAAAAAAgD8="},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", body)

	resp, body = get(t, sp.base+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode, "body=%s", body)
	var st struct {
		Instances []any `json:"instances"`
	}
	require.NoError(t, json.Unmarshal(body, &st))
	require.Len(t, st.Instances, 1)

	unloadResp := deleteURL(t, sp.base+"/models/"+loadResp.LoadID)
	require.Equal(t, http.StatusNoContent, unloadResp.StatusCode)
}

func TestBlackbox_Infer_UnknownLoadID_404(t *testing.T) {
	root := projectRootFromThisFile(t)
	cartondBin := buildBinary(t, root, "./cmd/cartond", "cartond")
	runnerDir := t.TempDir()

	port := findFreePort(t)
	sp := startServer(t, cartondBin, runnerDir, port)

	resp, body := postJSON(t, sp.base+"/models/does-not-exist/infer", map[string]any{"tensors": map[string]any{}})
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "body=%s", body)
}
