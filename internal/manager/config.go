package manager

import (
	"time"

	"github.com/carton-run/carton/internal/orchestrator"
)

// Defaults applied when the corresponding ManagerConfig field is unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 10 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// BudgetMB and MarginMB bound the sum of every ready handle's
	// EstResourceMB; Load evicts idle handles to make room. When no idle
	// handle is left to evict, the load proceeds over budget rather than
	// failing. A zero BudgetMB disables budget enforcement.
	BudgetMB int
	MarginMB int

	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration

	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(loader *orchestrator.Loader, cfg ManagerConfig) *Manager {
	m := &Manager{
		loader:    loader,
		handles:   make(map[string]*handle),
		budgetMB:  cfg.BudgetMB,
		marginMB:  cfg.MarginMB,
		startTime: time.Now(),
	}
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	if cfg.Publisher != nil {
		m.publisher = cfg.Publisher
	} else {
		m.publisher = noopPublisher{}
	}
	return m
}
