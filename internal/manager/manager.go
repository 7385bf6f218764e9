package manager

import (
	"sync"
	"time"

	"github.com/carton-run/carton/internal/orchestrator"
)

// Manager holds every currently loaded model instance, keyed by load id,
// and layers admission control, resource-budget eviction, and lifecycle
// events on top of internal/orchestrator's single-instance Load/Pack/Infer.
type Manager struct {
	mu sync.RWMutex

	loader  *orchestrator.Loader
	handles map[string]*handle

	budgetMB  int
	marginMB  int
	usedEstMB int

	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration

	publisher EventPublisher

	startTime      time.Time
	loadsTotal     uint64
	evictionsTotal uint64
	lastError      string
}

// New constructs a Manager with default tunables.
func New(loader *orchestrator.Loader, budgetMB, marginMB int) *Manager {
	return NewWithConfig(loader, ManagerConfig{BudgetMB: budgetMB, MarginMB: marginMB})
}

// Ready reports whether at least one handle has reached StateReady.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.handles {
		if h.State == StateReady {
			return true
		}
	}
	return false
}

func (m *Manager) getHandle(loadID string) (*handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handles[loadID]
	return h, ok
}
