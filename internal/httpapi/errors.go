package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error,
// bypassing the cartonerr.Kind mapping below.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps a cartonerr.Kind (spec.md §7) onto an HTTP status
// code. Kinds not covered here — programmer errors that should never
// reach an HTTP handler — fall through to 500.
func statusForError(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	if errors.Is(err, context.Canceled) {
		return 499
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	var ce *cartonerr.Error
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Kind {
	case cartonerr.KindManagerHandleNotFound, cartonerr.KindRegistryNoMatch, cartonerr.KindRegistryAmbiguousMatch:
		return http.StatusNotFound
	case cartonerr.KindManagerTooBusy:
		return http.StatusTooManyRequests
	case cartonerr.KindFormat, cartonerr.KindFormatUnsupportedSpec, cartonerr.KindFormatBadManifest,
		cartonerr.KindFormatMissingEntry, cartonerr.KindFormatTensorDecode, cartonerr.KindInferInputMismatch:
		return http.StatusBadRequest
	case cartonerr.KindIntegrity, cartonerr.KindInstallerVerify:
		return http.StatusUnprocessableEntity
	case cartonerr.KindByteSource, cartonerr.KindInstallerNetwork:
		return http.StatusBadGateway
	case cartonerr.KindIpcTimeout:
		return http.StatusGatewayTimeout
	case cartonerr.KindIpcCancelled:
		return 499
	case cartonerr.KindRunnerSpawnFailed, cartonerr.KindRunnerCrashed, cartonerr.KindRunnerIncompatible,
		cartonerr.KindIpcProtocolError, cartonerr.KindModelLoadFailed, cartonerr.KindInferRunnerError,
		cartonerr.KindInstallerExtract:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a consistent JSON error payload, deriving its
// HTTP status and machine-readable kind from the cartonerr taxonomy.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	kind := ""
	var ce *cartonerr.Error
	if errors.As(err, &ce) {
		kind = string(ce.Kind)
	}
	writeJSONError(w, status, err.Error(), kind)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}
