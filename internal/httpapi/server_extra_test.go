package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// blockingService blocks Infer until the context is done, to exercise the
// requestCtx timeout path.
type blockingService struct{ fakeService }

func (b *blockingService) Infer(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInferLogsWithZerologInfo(t *testing.T) {
	SetLogger(zerolog.New(io.Discard))
	defer SetLogger(zerolog.Logger{})

	svc := &fakeService{inferFn: func(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		return map[string]tensor.Tensor{}, nil
	}}
	h := NewMux(svc)
	reqBody, _ := json.Marshal(types.InferHTTPRequest{Tensors: map[string]types.WireTensorJSON{"x": float32Tensor(1)}})
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer?log=info", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with info logging, got %d", rec.Code)
	}
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	SetCORSOptions(true, []string{"*"}, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	defer SetCORSOptions(false, nil, nil, nil)

	svc := &fakeService{ready: true}
	h := NewMux(svc)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options=nosniff, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatalf("expected CORS header Access-Control-Allow-Origin to be set, got empty")
	}
}

func TestInferTimeoutReturns504(t *testing.T) {
	defer SetInferTimeoutSeconds(0)
	SetInferTimeoutSeconds(1)

	svc := &blockingService{}
	h := NewMux(svc)
	reqBody, _ := json.Marshal(types.InferHTTPRequest{Tensors: map[string]types.WireTensorJSON{"x": float32Tensor(1)}})
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on timeout, got %d", rec.Code)
	}
}

func TestContentTypeCaseInsensitive(t *testing.T) {
	svc := &fakeService{inferFn: func(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		return map[string]tensor.Tensor{}, nil
	}}
	h := NewMux(svc)
	rec := httptest.NewRecorder()
	reqBody, _ := json.Marshal(types.InferHTTPRequest{Tensors: map[string]types.WireTensorJSON{"x": float32Tensor(1)}})
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "Application/JSON; charset=utf-8")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with mixed-case content-type, got %d", rec.Code)
	}
}

func TestInferWithDebugLogging(t *testing.T) {
	svc := &fakeService{inferFn: func(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error) {
		return map[string]tensor.Tensor{}, nil
	}}
	h := NewMux(svc)
	reqBody, _ := json.Marshal(types.InferHTTPRequest{Tensors: map[string]types.WireTensorJSON{"x": float32Tensor(1)}})
	req := httptest.NewRequest(http.MethodPost, "/models/abc/infer?log=debug", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with debug logging, got %d", rec.Code)
	}
}
