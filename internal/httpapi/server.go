package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carton-run/carton/internal/bytesource"
	"github.com/carton-run/carton/internal/registry"
	"github.com/carton-run/carton/internal/tensor"
	"github.com/carton-run/carton/pkg/types"
)

// Service defines the methods internal/manager.Manager exposes to the
// HTTP layer. Handlers are written against this interface, not
// *manager.Manager directly, so tests can substitute a fake.
type Service interface {
	Load(ctx context.Context, src bytesource.ByteSource, opts types.LoadOpts) (string, error)
	LoadUnpacked(ctx context.Context, loadID, dir string, opts types.LoadOpts) error
	Unload(loadID string) error
	Infer(ctx context.Context, loadID string, inputs map[string]tensor.Tensor) (map[string]tensor.Tensor, error)
	Pack(ctx context.Context, sourceDir, outputPath string, opts types.PackOpts) error
	Status() types.StatusResponse
	Ready() bool

	Runners() []types.InstalledRunner
	InstallRunner(ctx context.Context, req registry.Request) (*types.InstalledRunner, error)
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Post("/load", handleLoad(svc))
	r.Post("/pack", handlePack(svc))
	r.Get("/models/{loadID}", handleGetModel(svc))
	r.Post("/models/{loadID}/load_unpacked", handleLoadUnpacked(svc))
	r.Post("/models/{loadID}/infer", handleInfer(svc))
	r.Delete("/models/{loadID}", handleUnload(svc))

	r.Get("/runners", handleListRunners(svc))
	r.Post("/runners/install", handleInstallRunner(svc))

	r.Get("/status", handleStatus(svc))
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(svc))

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// decodeJSON enforces Content-Type and maxBodyBytes before decoding v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response", "")
	}
}

// requestCtx joins the process base context (canceled on shutdown) with
// the request context, and additionally bounds it by inferTimeout when
// configured.
func requestCtx(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if inferTimeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, time.Duration(inferTimeout)*time.Second)
		return tctx, func() { tcancel(); cancel() }
	}
	return ctx, cancel
}

func handleLoad(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		src, err := openByteSource(r.Context(), req.Source)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx, cancel := requestCtx(r)
		defer cancel()

		start := time.Now()
		loadID, err := svc.Load(ctx, src, req.Opts)
		if err != nil {
			loadsTotal.WithLabelValues("error").Inc()
			logEvent(r, LevelInfo, statusForError(err), err, "load failed")
			writeError(w, err)
			return
		}
		loadsTotal.WithLabelValues("ok").Inc()
		logEvent(r, LevelInfo, http.StatusOK, nil, "load ok dur="+time.Since(start).String())
		writeJSON(w, map[string]string{"load_id": loadID})
	}
}

func handleLoadUnpacked(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loadID := chi.URLParam(r, "loadID")
		var req types.LoadUnpackedRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ctx, cancel := requestCtx(r)
		defer cancel()
		if err := svc.LoadUnpacked(ctx, loadID, req.Dir, req.Opts); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"load_id": loadID})
	}
}

func handlePack(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.PackHTTPRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ctx, cancel := requestCtx(r)
		defer cancel()
		if err := svc.Pack(ctx, req.SourceDir, req.OutputPath, req.Opts); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, types.PackHTTPResponse{OutputPath: req.OutputPath})
	}
}

func handleGetModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loadID := chi.URLParam(r, "loadID")
		status := svc.Status()
		for _, inst := range status.Instances {
			if inst.LoadID == loadID {
				writeJSON(w, inst)
				return
			}
		}
		writeJSONError(w, http.StatusNotFound, "no loaded instance with this id", "manager_handle_not_found")
	}
}

func handleUnload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loadID := chi.URLParam(r, "loadID")
		if err := svc.Unload(loadID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleInfer(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loadID := chi.URLParam(r, "loadID")
		var req types.InferHTTPRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		inputs, err := tensorsFromJSON(req.Tensors)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx, cancel := requestCtx(r)
		defer cancel()

		start := time.Now()
		outputs, err := svc.Infer(ctx, loadID, inputs)
		dur := time.Since(start)
		if err != nil {
			if r.Context().Err() != nil {
				return // client disconnected, nothing to report
			}
			status := statusForError(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("queue_full")
			}
			inferDuration.WithLabelValues(loadID, "error").Observe(dur.Seconds())
			logEvent(r, LevelInfo, status, err, "infer failed")
			writeError(w, err)
			return
		}
		inferDuration.WithLabelValues(loadID, "ok").Observe(dur.Seconds())
		logEvent(r, LevelInfo, http.StatusOK, nil, "infer ok dur="+dur.String())

		wireOut, err := tensorsToJSON(outputs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, types.InferHTTPResponse{Tensors: wireOut})
	}
}

func handleListRunners(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.RunnersResponse{Runners: svc.Runners()})
	}
}

func handleInstallRunner(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.RunnerInstallRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		ctx, cancel := requestCtx(r)
		defer cancel()
		installed, err := svc.InstallRunner(ctx, registry.Request{
			RunnerName:               req.RunnerName,
			RunnerCompatVersion:      req.RunnerCompatVersion,
			RequiredFrameworkVersion: req.RequiredFrameworkVersion,
			PlatformTriple:           req.PlatformTriple,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, installed)
	}
}

func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleReadyz(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	}
}
