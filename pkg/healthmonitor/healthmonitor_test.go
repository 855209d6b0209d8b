package healthmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luispineda/epu/pkg/storage"
	"github.com/luispineda/epu/pkg/types"
)

func newTestMonitor(t *testing.T, cfg types.HealthConfig) (*Monitor, storage.Store) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewMonitor(store, nil, cfg), store
}

func TestProcessHeartbeatOK(t *testing.T) {
	m, _ := newTestMonitor(t, types.HealthConfig{})

	require.NoError(t, m.ProcessHeartbeat(types.Heartbeat{NodeID: "n1", State: "OK"}))

	rec, err := m.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthOK, rec.Health)
}

func TestProcessHeartbeatErrorClassifiesProcessError(t *testing.T) {
	m, _ := newTestMonitor(t, types.HealthConfig{})

	require.NoError(t, m.ProcessHeartbeat(types.Heartbeat{
		NodeID: "n1",
		State:  "ERROR",
		FailedProcesses: []types.ProcessFailure{
			{Name: "worker", ExitCode: 1},
		},
	}))

	rec, err := m.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthProcessError, rec.Health)
	assert.Len(t, rec.Errors, 1)
}

func TestSweepMarksOutOfContactAfterMissingTimeout(t *testing.T) {
	m, store := newTestMonitor(t, types.HealthConfig{
		MissingSeconds:       10 * time.Millisecond,
		ReallyMissingSeconds: time.Hour,
		ZombieSeconds:        2 * time.Hour,
		BootSeconds:          time.Hour,
	})

	now := time.Now()
	require.NoError(t, store.CreateNode(&types.Node{
		NodeID:    "n1",
		State:     types.InstanceRunning,
		UpdatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, m.store.PutHealthRecord(&types.HealthRecord{
		NodeID:        "n1",
		Health:        types.HealthOK,
		LastHeartbeat: now.Add(-time.Minute),
	}))

	require.NoError(t, m.Sweep(context.Background()))

	rec, err := m.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthOutOfContact, rec.Health)
}

func TestSweepTerminalNodeWithoutHeartbeatStaysUnclassified(t *testing.T) {
	m, store := newTestMonitor(t, types.HealthConfig{MissingSeconds: time.Nanosecond})

	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "n1",
		State:  types.InstanceTerminated,
	}))

	require.NoError(t, m.Sweep(context.Background()))

	rec, err := store.GetHealthRecord("n1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnknown, rec.Health) // terminal, but never heartbeated: not a zombie
}

func TestHeartbeatAfterTerminationIsZombie(t *testing.T) {
	m, store := newTestMonitor(t, types.HealthConfig{})

	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "n1",
		State:  types.InstanceTerminated,
	}))

	require.NoError(t, m.ProcessHeartbeat(types.Heartbeat{NodeID: "n1", State: "OK"}))

	rec, err := m.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthZombie, rec.Health)
}

func TestSweepDecaysZombieAfterZombieWindow(t *testing.T) {
	m, store := newTestMonitor(t, types.HealthConfig{ZombieSeconds: 10 * time.Millisecond})

	require.NoError(t, store.CreateNode(&types.Node{
		NodeID: "n1",
		State:  types.InstanceTerminated,
	}))
	require.NoError(t, m.store.PutHealthRecord(&types.HealthRecord{
		NodeID:        "n1",
		Health:        types.HealthZombie,
		LastHeartbeat: time.Now().Add(-time.Hour),
	}))

	require.NoError(t, m.Sweep(context.Background()))

	rec, err := m.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthOK, rec.Health) // no heartbeat for longer than zombie_seconds: no longer a zombie
}

func TestSweepDoesNotZombifyQuietLiveNode(t *testing.T) {
	m, store := newTestMonitor(t, types.HealthConfig{
		MissingSeconds:       time.Hour,
		ReallyMissingSeconds: time.Hour,
		ZombieSeconds:        10 * time.Millisecond,
		BootSeconds:          time.Hour,
	})

	now := time.Now()
	require.NoError(t, store.CreateNode(&types.Node{
		NodeID:    "n1",
		State:     types.InstanceRunning,
		UpdatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, m.store.PutHealthRecord(&types.HealthRecord{
		NodeID:        "n1",
		Health:        types.HealthOK,
		LastHeartbeat: now.Add(-time.Hour),
	}))

	require.NoError(t, m.Sweep(context.Background()))

	rec, err := m.Get("n1")
	require.NoError(t, err)
	assert.NotEqual(t, types.HealthZombie, rec.Health) // live nodes never classify ZOMBIE from silence
}
