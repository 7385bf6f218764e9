// Package cartonerr defines the error taxonomy shared across the core
// (spec.md §7): typed errors, not typed exceptions, matching the pattern
// used by internal/manager/errors.go in the teacher daemon this module
// grew out of (tooBusyError, modelNotFoundError, ...).
package cartonerr

import "fmt"

// Kind is one branch of the error taxonomy.
type Kind string

const (
	KindFormat                Kind = "format"
	KindFormatUnsupportedSpec Kind = "format_unsupported_spec"
	KindFormatBadManifest     Kind = "format_bad_manifest"
	KindFormatMissingEntry    Kind = "format_missing_entry"
	KindFormatTensorDecode    Kind = "format_tensor_decode"
	KindIntegrity              Kind = "integrity"
	KindByteSource             Kind = "byte_source"
	KindRegistryNoMatch        Kind = "registry_no_match"
	KindRegistryAmbiguousMatch Kind = "registry_ambiguous_match"
	KindInstallerNetwork       Kind = "installer_network"
	KindInstallerVerify        Kind = "installer_verify"
	KindInstallerExtract       Kind = "installer_extract"
	KindRunnerSpawnFailed      Kind = "runner_spawn_failed"
	KindRunnerCrashed          Kind = "runner_crashed"
	KindRunnerIncompatible     Kind = "runner_incompatible_interface"
	KindIpcProtocolError       Kind = "ipc_protocol_error"
	KindIpcTimeout             Kind = "ipc_timeout"
	KindIpcCancelled           Kind = "ipc_cancelled"
	KindModelLoadFailed        Kind = "model_load_failed"
	KindInferInputMismatch     Kind = "infer_input_mismatch"
	KindInferRunnerError       Kind = "infer_runner_returned_error"
	KindManagerTooBusy         Kind = "manager_too_busy"
	KindManagerHandleNotFound  Kind = "manager_handle_not_found"
)

// Error is the concrete error type for every branch of the taxonomy.
// User-visible messages include the model identity and, when known, the
// selected runner's descriptor (spec.md §7).
type Error struct {
	Kind Kind

	// ModelIdentity is the MANIFEST sha256, when known.
	ModelIdentity string
	// RunnerDescriptor is a short human string ("runner_name@compat=N"),
	// when a runner had already been selected.
	RunnerDescriptor string

	Msg string
	Err error

	// Runner/exit-status detail, populated for KindRunnerCrashed.
	ExitStatus int
	LastLog    string
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.ModelIdentity != "" {
		s += fmt.Sprintf(" (model=%s)", e.ModelIdentity)
	}
	if e.RunnerDescriptor != "" {
		s += fmt.Sprintf(" (runner=%s)", e.RunnerDescriptor)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a plain *Error for kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a *Error wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ce, ok := err.(*Error); ok {
		e = ce
	} else {
		return false
	}
	return e.Kind == kind
}

// WithModel returns a copy of e annotated with a model identity.
func (e *Error) WithModel(manifestSHA256 string) *Error {
	c := *e
	c.ModelIdentity = manifestSHA256
	return &c
}

// WithRunner returns a copy of e annotated with a runner descriptor string.
func (e *Error) WithRunner(desc string) *Error {
	c := *e
	c.RunnerDescriptor = desc
	return &c
}

// Crashed builds a KindRunnerCrashed error carrying exit status and the
// tail of the runner's last log output.
func Crashed(exitStatus int, lastLog string) *Error {
	return &Error{
		Kind:       KindRunnerCrashed,
		Msg:        "runner process crashed",
		ExitStatus: exitStatus,
		LastLog:    lastLog,
	}
}
