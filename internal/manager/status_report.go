package manager

import (
	"time"

	"github.com/carton-run/carton/pkg/types"
)

// Snapshot returns a read-only view of the manager's aggregate state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{LastError: m.lastError}
	for _, h := range m.handles {
		switch h.State {
		case StateLoading:
			s.LoadingCount++
		case StateReady:
			s.ReadyCount++
		case StateDraining:
			s.DrainingCount++
		}
	}
	return s
}

// Status builds the detailed response for GET /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		BudgetMB:       m.budgetMB,
		UsedMB:         m.usedEstMB,
		MarginMB:       m.marginMB,
		LastError:      m.lastError,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		EvictionsTotal: m.evictionsTotal,
		LoadsTotal:     m.loadsTotal,
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.handles))
	for _, h := range m.handles {
		if h.State == StateLoading {
			resp.LoadingCount++
		}
		if h.State == StateDraining {
			resp.DrainingCount++
		}
		resp.Instances = append(resp.Instances, h.toStatus())
	}
	return resp
}
