package httpapi

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/carton-run/carton/internal/bytesource"
	"github.com/carton-run/carton/internal/manager"
	"github.com/carton-run/carton/internal/registry"
	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// fakeService is a hand-rolled double for Service; individual test cases
// set only the Fn fields they exercise.
type fakeService struct {
	loadFn         func(ctx context.Context, src bytesource.ByteSource, opts types.LoadOpts) (string, error)
	loadUnpackedFn func(ctx context.Context, loadID, dir string, opts types.LoadOpts) error
	unloadFn       func(loadID string) error
	inferFn        func(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error)
	packFn         func(ctx context.Context, sourceDir, outputPath string, opts types.PackOpts) error
	installFn      func(ctx context.Context, req registry.Request) (*types.InstalledRunner, error)

	status  types.StatusResponse
	ready   bool
	runners []types.InstalledRunner
}

func (f *fakeService) Load(ctx context.Context, src bytesource.ByteSource, opts types.LoadOpts) (string, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, src, opts)
	}
	return "", nil
}

func (f *fakeService) LoadUnpacked(ctx context.Context, loadID, dir string, opts types.LoadOpts) error {
	if f.loadUnpackedFn != nil {
		return f.loadUnpackedFn(ctx, loadID, dir, opts)
	}
	return nil
}

func (f *fakeService) Unload(loadID string) error {
	if f.unloadFn != nil {
		return f.unloadFn(loadID)
	}
	return nil
}

func (f *fakeService) Infer(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	if f.inferFn != nil {
		return f.inferFn(ctx, loadID, inputs)
	}
	return nil, nil
}

func (f *fakeService) Pack(ctx context.Context, sourceDir, outputPath string, opts types.PackOpts) error {
	if f.packFn != nil {
		return f.packFn(ctx, sourceDir, outputPath, opts)
	}
	return nil
}

func (f *fakeService) Status() types.StatusResponse { return f.status }
func (f *fakeService) Ready() bool                  { return f.ready }
func (f *fakeService) Runners() []types.InstalledRunner {
	return append([]types.InstalledRunner(nil), f.runners...)
}

func (f *fakeService) InstallRunner(ctx context.Context, req registry.Request) (*types.InstalledRunner, error) {
	if f.installFn != nil {
		return f.installFn(ctx, req)
	}
	return nil, nil
}

func float32Tensor(v float32) types.WireTensorJSON {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return types.WireTensorJSON{DType: types.DTypeFloat32, Shape: []uint64{1}, Data: buf}
}

func TestStatusHandler(t *testing.T) {
	svc := &fakeService{status: types.StatusResponse{BudgetMB: 10}}
	r := NewMux(svc)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.BudgetMB != 10 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	svc := &fakeService{ready: true}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyz_NotReady(t *testing.T) {
	svc := &fakeService{ready: false}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	svc := &fakeService{}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestLoadHandler_Success(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "carton-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = tmp.Write([]byte("hello"))
	tmp.Close()

	svc := &fakeService{loadFn: func(ctx context.Context, src bytesource.ByteSource, opts types.LoadOpts) (string, error) {
		return "deadbeef", nil
	}}
	r := NewMux(svc)
	body, _ := json.Marshal(types.LoadRequest{Source: types.ByteSourceRef{Kind: types.ByteSourceLocal, Path: tmp.Name()}})
	req := httptest.NewRequest(http.MethodPost, "/load", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp["load_id"] != "deadbeef" {
		t.Fatalf("unexpected load_id: %+v", resp)
	}
}

func TestLoadHandler_MissingLocalPath(t *testing.T) {
	svc := &fakeService{}
	r := NewMux(svc)
	body, _ := json.Marshal(types.LoadRequest{Source: types.ByteSourceRef{Kind: types.ByteSourceLocal}})
	req := httptest.NewRequest(http.MethodPost, "/load", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		t.Fatalf("expected an error status, got 200")
	}
}

func TestGetModel_Found(t *testing.T) {
	svc := &fakeService{status: types.StatusResponse{Instances: []types.InstanceStatus{{LoadID: "abc", State: "ready"}}}}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/abc", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGetModel_NotFound(t *testing.T) {
	svc := &fakeService{}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestUnload_Success(t *testing.T) {
	svc := &fakeService{unloadFn: func(loadID string) error { return nil }}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/models/abc", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestUnload_NotFound(t *testing.T) {
	svc := &fakeService{unloadFn: func(loadID string) error { return manager.ErrHandleNotFound(loadID) }}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/models/abc", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInfer_Success(t *testing.T) {
	svc := &fakeService{inferFn: func(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		if loadID != "abc" {
			t.Fatalf("unexpected loadID: %s", loadID)
		}
		return map[string]tensor.Tensor{
			"y": {DType: types.DTypeFloat32, Shape: []uint64{1}, Storage: tensor.NewInlineStorage([]byte{0, 0, 128, 63})},
		}, nil
	}}
	r := NewMux(svc)
	reqBody, _ := json.Marshal(types.InferHTTPRequest{Tensors: map[string]types.WireTensorJSON{"x": float32Tensor(1)}})
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.InferHTTPResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if _, ok := resp.Tensors["y"]; !ok {
		t.Fatalf("missing output tensor y: %+v", resp)
	}
}

func TestInfer_TooBusyMaps429(t *testing.T) {
	svc := &fakeService{inferFn: func(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		return nil, manager.ErrTooBusy(loadID)
	}}
	r := NewMux(svc)
	reqBody, _ := json.Marshal(types.InferHTTPRequest{Tensors: map[string]types.WireTensorJSON{"x": float32Tensor(1)}})
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInfer_HandleNotFoundMaps404(t *testing.T) {
	svc := &fakeService{inferFn: func(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		return nil, manager.ErrHandleNotFound(loadID)
	}}
	r := NewMux(svc)
	reqBody, _ := json.Marshal(types.InferHTTPRequest{Tensors: map[string]types.WireTensorJSON{"x": float32Tensor(1)}})
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInferUnsupportedMediaType(t *testing.T) {
	svc := &fakeService{}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestInferBodyTooLarge(t *testing.T) {
	svc := &fakeService{}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	big := make([]byte, (1<<20)+10)
	for i := range big {
		big[i] = 'a'
	}
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer", bytes.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too-large body, got %d", w.Code)
	}
}

func TestPackHandler_Success(t *testing.T) {
	svc := &fakeService{packFn: func(ctx context.Context, sourceDir, outputPath string, opts types.PackOpts) error {
		return nil
	}}
	r := NewMux(svc)
	reqBody, _ := json.Marshal(types.PackHTTPRequest{SourceDir: "/src", OutputPath: "/out.carton"})
	req := httptest.NewRequest(http.MethodPost, "/pack", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRunnersHandler(t *testing.T) {
	svc := &fakeService{runners: []types.InstalledRunner{{RunnerDescriptor: types.RunnerDescriptor{RunnerName: "onnxrunner"}}}}
	r := NewMux(svc)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runners", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp types.RunnersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Runners) != 1 {
		t.Fatalf("expected 1 runner, got %d", len(resp.Runners))
	}
}

func TestInstallRunnerHandler(t *testing.T) {
	svc := &fakeService{installFn: func(ctx context.Context, req registry.Request) (*types.InstalledRunner, error) {
		return &types.InstalledRunner{RunnerDescriptor: types.RunnerDescriptor{RunnerName: req.RunnerName}}, nil
	}}
	r := NewMux(svc)
	reqBody, _ := json.Marshal(types.RunnerInstallRequest{RunnerName: "onnxrunner"})
	req := httptest.NewRequest(http.MethodPost, "/runners/install", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
