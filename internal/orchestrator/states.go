// Package orchestrator drives a single model instance through
// load/pack/infer, spawning and supervising its runner subprocess and
// speaking the IPC protocol to it (spec.md §4.9, §4.10).
package orchestrator

import "github.com/carton-run/carton/internal/cartonerr"

// State is one step of the load state machine (spec.md §4.9):
// Resolving -> Selecting -> Installing? -> Spawning -> Handshaking ->
// Mounting -> Loading -> Ready, with any state able to transition to
// Failed.
type State int

const (
	StateResolving State = iota
	StateSelecting
	StateInstalling
	StateSpawning
	StateHandshaking
	StateMounting
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateSelecting:
		return "selecting"
	case StateInstalling:
		return "installing"
	case StateSpawning:
		return "spawning"
	case StateHandshaking:
		return "handshaking"
	case StateMounting:
		return "mounting"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// retryableStates lists the load phases spec.md §4.9 allows one
// transient-error retry for, before the failure surfaces to the caller.
var retryableStates = map[State]bool{
	StateInstalling:   true,
	StateSpawning:     true,
	StateHandshaking:  true,
}

// StateChange is published on a model's event bus as the load state
// machine advances, letting internal/manager and internal/httpapi
// surface load progress.
type StateChange struct {
	State State
	Err   error
}

// isTransient reports whether err is worth retrying once from a
// retryable state (network hiccups, spawn EAGAIN) rather than failing
// immediately.
func isTransient(err error) bool {
	var ce *cartonerr.Error
	if e, ok := err.(*cartonerr.Error); ok {
		ce = e
	} else {
		return false
	}
	switch ce.Kind {
	case cartonerr.KindInstallerNetwork, cartonerr.KindRunnerSpawnFailed, cartonerr.KindIpcTimeout:
		return true
	default:
		return false
	}
}
