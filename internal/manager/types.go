// Package manager coordinates a fleet of loaded Carton model instances: it
// admission-controls Infer calls, evicts idle instances to stay within a
// resource budget, and publishes lifecycle events. Loading, packing, and
// inference are delegated to internal/orchestrator; this package only adds
// the multi-instance policy layer on top of a single loaded instance.
package manager

import (
	"time"

	"github.com/carton-run/carton/internal/orchestrator"
	"github.com/carton-run/carton/pkg/types"
)

// State is a handle's lifecycle state from the manager's point of view. It
// collapses orchestrator's finer-grained load states into Loading, and adds
// Draining for a handle being drained by an explicit Unload. Eviction
// removes a handle directly, without passing through Draining.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateError    State = "error"
)

// Snapshot is a read-only projection of the manager's aggregate state.
type Snapshot struct {
	LoadingCount  int
	ReadyCount    int
	DrainingCount int
	LastError     string
}

// handle is one loaded model instance plus the admission-control and
// accounting state the manager layers on top of it.
type handle struct {
	LoadID         string
	ManifestSHA256 string
	RunnerName     string
	State          State
	LastUsed       time.Time
	EstResourceMB  int

	instance *orchestrator.Instance

	genCh   chan struct{} // size 1: single in-flight Infer call per instance
	queueCh chan struct{} // buffered: queue slots waiting for the gen slot
}

func (h *handle) toStatus() types.InstanceStatus {
	pid := 0
	if h.instance != nil {
		pid = h.instance.PID()
	}
	return types.InstanceStatus{
		LoadID:         h.LoadID,
		ManifestSHA256: h.ManifestSHA256,
		RunnerName:     h.RunnerName,
		State:          string(h.State),
		LastUsed:       h.LastUsed.Unix(),
		EstResourceMB:  h.EstResourceMB,
		QueueLen:       len(h.queueCh),
		Inflight:       len(h.genCh),
		MaxQueueDepth:  cap(h.queueCh),
		PID:            pid,
	}
}
