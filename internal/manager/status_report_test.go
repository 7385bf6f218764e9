package manager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusAggregatesInstancesAndCounts(t *testing.T) {
	m := newTestManager(500, 10)
	m.handles["a"] = newTestHandle("a", StateReady, 50, 2)
	m.handles["b"] = newTestHandle("b", StateLoading, 10, 2)
	m.handles["c"] = newTestHandle("c", StateDraining, 20, 2)
	m.usedEstMB = 80
	m.loadsTotal = 3
	m.evictionsTotal = 1

	resp := m.Status()
	require.Len(t, resp.Instances, 3)
	require.Equal(t, 500, resp.BudgetMB)
	require.Equal(t, 80, resp.UsedMB)
	require.Equal(t, 10, resp.MarginMB)
	require.Equal(t, 1, resp.LoadingCount)
	require.Equal(t, 1, resp.DrainingCount)
	require.EqualValues(t, 3, resp.LoadsTotal)
	require.EqualValues(t, 1, resp.EvictionsTotal)
}

func TestSnapshotCountsByState(t *testing.T) {
	m := newTestManager(0, 0)
	m.handles["a"] = newTestHandle("a", StateReady, 1, 2)
	m.handles["b"] = newTestHandle("b", StateReady, 1, 2)
	m.handles["c"] = newTestHandle("c", StateLoading, 1, 2)

	snap := m.Snapshot()
	require.Equal(t, 2, snap.ReadyCount)
	require.Equal(t, 1, snap.LoadingCount)
	require.Equal(t, 0, snap.DrainingCount)
}
