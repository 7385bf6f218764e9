package manager

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight
// generation slot for h, mirroring the teacher's queue_admission.go: fast
// path on an already-canceled context, a MaxWait timer for each wait, and a
// Draining check that rejects new work outright so a drain can complete.
func (m *Manager) beginGeneration(ctx context.Context, loadID string) (func(), error) {
	h, ok := m.getHandle(loadID)
	if !ok {
		return func() {}, ErrHandleNotFound(loadID)
	}
	if h.State == StateDraining {
		return func() {}, ErrTooBusy(loadID)
	}
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case h.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, ErrTooBusy(loadID)
	}

	acquired := false
	defer func() {
		if !acquired {
			<-h.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer2 := time.NewTimer(m.maxWait)
	defer timer2.Stop()
	select {
	case h.genCh <- struct{}{}:
		acquired = true
		m.mu.Lock()
		h.LastUsed = time.Now()
		m.mu.Unlock()
		return func() { <-h.genCh; <-h.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, ErrTooBusy(loadID)
	}
}
