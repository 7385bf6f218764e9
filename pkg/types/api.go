package types

// LoadRequest is the JSON body of POST /load: where to fetch a carton's
// bytes from, plus the same overrides Load/LoadUnpacked accept in-process.
type LoadRequest struct {
	Source ByteSourceRef `json:"source"`
	Opts   LoadOpts      `json:"opts,omitempty"`
}

// InferHTTPRequest is the JSON body of POST /models/{loadID}/infer. Tensors
// travel the same wire shape used between manager and runner.
type InferHTTPRequest struct {
	Tensors map[string]WireTensorJSON `json:"tensors"`
}

// WireTensorJSON is the JSON-safe rendering of a wire tensor: raw bytes are
// base64, matching encoding/json's default []byte handling. Exactly one of
// Data, Strings, or Nested is populated, selected by DType, mirroring
// internal/tensor.Tensor's Storage/Strings/Nested split.
type WireTensorJSON struct {
	DType DType    `json:"dtype"`
	Shape []uint64 `json:"shape"`

	Data    []byte           `json:"data,omitempty"`
	Strings []string         `json:"strings,omitempty"`
	Nested  []WireTensorJSON `json:"nested,omitempty"`
}

// PackHTTPRequest is the JSON body of POST /pack.
type PackHTTPRequest struct {
	SourceDir  string   `json:"source_dir"`
	OutputPath string   `json:"output_path"`
	Opts       PackOpts `json:"opts"`
}

// PackHTTPResponse is the JSON body returned by POST /pack.
type PackHTTPResponse struct {
	OutputPath string `json:"output_path"`
}

// LoadUnpackedRequest is the JSON body of POST /models/{loadID}/load_unpacked,
// used by local dev flows that mount a directory instead of a packed carton.
type LoadUnpackedRequest struct {
	Dir  string   `json:"dir"`
	Opts LoadOpts `json:"opts,omitempty"`
}

// RunnersResponse is the JSON body returned by GET /runners.
type RunnersResponse struct {
	Runners []InstalledRunner `json:"runners"`
}

// RunnerInstallRequest is the JSON body of POST /runners/install: the same
// (name, compat version, framework version, platform) tuple Resolve
// matches against, but forcing an install from the remote catalog.
type RunnerInstallRequest struct {
	RunnerName               string `json:"runner_name"`
	RunnerCompatVersion      uint64 `json:"runner_compat_version"`
	RequiredFrameworkVersion string `json:"required_framework_version"`
	PlatformTriple           string `json:"platform_triple,omitempty"`
}

// InferHTTPResponse is the JSON body returned by POST /models/{loadID}/infer.
type InferHTTPResponse struct {
	Tensors map[string]WireTensorJSON `json:"tensors"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: manifest hash not found in registry
	Error string `json:"error" example:"manifest hash not found in registry"`
	// Machine-readable error kind (cartonerr.Kind).
	// example: registry_no_match
	Kind string `json:"kind,omitempty" example:"registry_no_match"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// InstanceStatus summarizes one loaded model instance for GET /status.
type InstanceStatus struct {
	// LoadID identifies this instance among the manager's loaded models: the
	// MANIFEST sha256 for a packed carton, or the caller-supplied id (the
	// {loadID} path segment) for an unpacked directory load.
	// example: 3b1e...c9
	LoadID string `json:"load_id" example:"3b1e...c9"`
	// ManifestSHA256 is empty for LoadUnpacked instances.
	ManifestSHA256 string `json:"manifest_sha256,omitempty" example:"3b1e...c9"`
	// RunnerName that ended up serving this instance.
	// example: onnxrunner
	RunnerName string `json:"runner_name" example:"onnxrunner"`
	// Current lifecycle state (spec.md §4.9 state machine).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this instance served an Infer call (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Estimated resident cost in MB, derived from the container size.
	// example: 1200
	EstResourceMB int `json:"est_resource_mb" example:"1200"`
	// Current queue length for incoming Infer calls.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight Infer calls currently being processed.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Process ID of the runner subprocess.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded model instances.
	Instances []InstanceStatus `json:"instances"`
	// Resource budget in MB across all instances.
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// Estimated used resource in MB.
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// Reserved margin in MB.
	// example: 512
	MarginMB int `json:"margin_mb" example:"512"`
	// Last error observed by the manager, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of evictions performed to free resource budget.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total number of Load calls that reached Ready.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Number of instances currently loading.
	// example: 1
	LoadingCount int `json:"loading_count" example:"1"`
	// Number of instances currently draining (Unload in progress).
	// example: 1
	DrainingCount int `json:"draining_count" example:"1"`
}
