package manager

import "time"

// Unload initiates a graceful drain of a loaded instance and removes it:
// sets it to Draining to reject new enqueues, waits up to drainTimeout for
// in-flight and queued Infer calls to finish, then closes the underlying
// orchestrator.Instance (stopping its runner subprocess) and removes the
// handle.
func (m *Manager) Unload(loadID string) error {
	if loadID == "" {
		return ErrHandleNotFound("(unspecified)")
	}
	m.mu.Lock()
	h := m.handles[loadID]
	if h == nil {
		m.mu.Unlock()
		return ErrHandleNotFound(loadID)
	}
	h.State = StateDraining
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "unload_start", LoadID: loadID, Fields: map[string]any{}})

	deadline := time.Now().Add(m.drainTimeout)
	for {
		m.mu.RLock()
		qlen := len(h.queueCh)
		inflight := len(h.genCh)
		m.mu.RUnlock()
		if inflight == 0 && qlen == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.publisher.Publish(Event{Name: "unload_timeout", LoadID: loadID, Fields: map[string]any{"inflight": inflight, "queue": qlen}})
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if h.instance != nil {
		_ = h.instance.Close()
	}

	m.mu.Lock()
	if h2 := m.handles[loadID]; h2 != nil {
		m.usedEstMB -= h2.EstResourceMB
		if m.usedEstMB < 0 {
			m.usedEstMB = 0
		}
	}
	delete(m.handles, loadID)
	m.mu.Unlock()

	m.publisher.Publish(Event{Name: "unload_done", LoadID: loadID, Fields: map[string]any{}})
	return nil
}
