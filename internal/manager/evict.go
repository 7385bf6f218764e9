package manager

import "time"

// evictUntilFits closes idle handles, LRU first, until requiredMB fits
// within budgetMB alongside marginMB and whatever is already used. Handles
// with in-flight or queued work are left alone even if they are the
// least-recently-used, matching the teacher's evict.go MVP behavior of not
// requiring mid-flight cancellation.
func (m *Manager) evictUntilFits(requiredMB int) error {
	deadline := time.Now().Add(1 * time.Second)
	for {
		m.mu.Lock()
		if m.budgetMB <= 0 || m.usedEstMB+requiredMB+m.marginMB <= m.budgetMB {
			m.mu.Unlock()
			return nil
		}
		var lru *handle
		for _, h := range m.handles {
			if len(h.genCh) > 0 || len(h.queueCh) > 0 {
				continue
			}
			if lru == nil || h.LastUsed.Before(lru.LastUsed) {
				lru = h
			}
		}
		if lru == nil {
			m.mu.Unlock()
			return nil
		}
		delete(m.handles, lru.LoadID)
		m.usedEstMB -= lru.EstResourceMB
		m.evictionsTotal++
		m.mu.Unlock()

		if lru.instance != nil {
			_ = lru.instance.Close()
		}
		m.publisher.Publish(Event{Name: "evict", LoadID: lru.LoadID, Fields: map[string]any{"est_resource_mb": lru.EstResourceMB}})

		if time.Now().After(deadline) {
			return nil
		}
	}
}
