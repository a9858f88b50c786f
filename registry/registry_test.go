package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := New(func(o *Options) {
		o.GracePeriod = 25 * time.Millisecond
	})
	t.Cleanup(func() { reg.StopAll() })
	return reg
}

// -------------------- Loading --------------------

func TestRegistry_LoadInitialStatus(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Load([]ServerDescriptor{
		{Name: "files", Command: "sleep", Args: []string{"5"}},
		{Name: "search", Command: "sleep", Args: []string{"5"}},
		{Name: "render", Command: "sleep", Args: []string{"5"}},
	})
	require.NoError(t, err)

	for _, name := range []string{"files", "search", "render"} {
		status, ok := reg.Status(name)
		require.True(t, ok)
		assert.Equal(t, StatusStopped, status)
	}

	stats := reg.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Stopped)
	assert.Equal(t, stats.Total, stats.Running+stats.Starting+stats.Stopped+stats.Error)
}

func TestRegistry_LoadValidation(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		reg := newTestRegistry(t)
		err := reg.Load([]ServerDescriptor{{Command: "sleep"}})
		assert.Error(t, err)
	})

	t.Run("missing command", func(t *testing.T) {
		reg := newTestRegistry(t)
		err := reg.Load([]ServerDescriptor{{Name: "files"}})
		assert.Error(t, err)
	})

	t.Run("duplicate name", func(t *testing.T) {
		reg := newTestRegistry(t)
		require.NoError(t, reg.Load([]ServerDescriptor{{Name: "files", Command: "sleep"}}))
		err := reg.Load([]ServerDescriptor{{Name: "files", Command: "sleep"}})
		assert.ErrorContains(t, err, "duplicate")
	})
}

// -------------------- Lifecycle --------------------

func TestRegistry_StartStop(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Load([]ServerDescriptor{
		{Name: "worker", Command: "sleep", Args: []string{"5"}},
	}))

	require.NoError(t, reg.Start("worker"))

	status, _ := reg.Status("worker")
	assert.Equal(t, StatusRunning, status)

	views := reg.Snapshot()
	require.Len(t, views, 1)
	assert.Equal(t, "worker", views[0].Name)
	assert.False(t, views[0].StartedAt.IsZero())
	assert.NotZero(t, views[0].PID)

	// Starting a running server is a no-op success, no second process.
	pid := views[0].PID
	require.NoError(t, reg.Start("worker"))
	views = reg.Snapshot()
	assert.Equal(t, pid, views[0].PID)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, stats.Total, stats.Running+stats.Starting+stats.Stopped+stats.Error)

	assert.True(t, reg.Stop("worker"))
	status, _ = reg.Status("worker")
	assert.Equal(t, StatusStopped, status)

	// Stopping again, or stopping something unknown, reports false.
	assert.False(t, reg.Stop("worker"))
	assert.False(t, reg.Stop("no-such-server"))
}

func TestRegistry_StartUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.Start("ghost")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestRegistry_SpawnError(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Load([]ServerDescriptor{
		{Name: "broken", Command: "toolmesh-no-such-binary-xyz"},
	}))

	err := reg.Start("broken")
	require.Error(t, err)

	status, _ := reg.Status("broken")
	assert.Equal(t, StatusError, status)

	views := reg.Snapshot()
	require.Len(t, views, 1)
	assert.NotEmpty(t, views[0].LastError)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Error)
	assert.Equal(t, stats.Total, stats.Running+stats.Starting+stats.Stopped+stats.Error)
}

func TestRegistry_ExitDuringGraceWindow(t *testing.T) {
	reg := New(func(o *Options) {
		o.GracePeriod = 200 * time.Millisecond
	})
	require.NoError(t, reg.Load([]ServerDescriptor{
		{Name: "flaky", Command: "sh", Args: []string{"-c", "exit 3"}},
	}))

	err := reg.Start("flaky")
	require.Error(t, err)
	assert.ErrorContains(t, err, "exited during startup")

	status, _ := reg.Status("flaky")
	assert.Equal(t, StatusStopped, status, "exit watcher settles the state, not error")
}

func TestRegistry_ExternalExitObserved(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Load([]ServerDescriptor{
		{Name: "shortlived", Command: "sh", Args: []string{"-c", "sleep 0.2"}},
	}))

	require.NoError(t, reg.Start("shortlived"))
	status, _ := reg.Status("shortlived")
	require.Equal(t, StatusRunning, status)

	assert.Eventually(t, func() bool {
		status, _ := reg.Status("shortlived")
		return status == StatusStopped
	}, 2*time.Second, 20*time.Millisecond, "external exit must flip the server back to stopped")
}

func TestRegistry_StopAll(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Load([]ServerDescriptor{
		{Name: "one", Command: "sleep", Args: []string{"5"}},
		{Name: "two", Command: "sleep", Args: []string{"5"}},
		{Name: "idle", Command: "sleep", Args: []string{"5"}},
	}))
	require.NoError(t, reg.Start("one"))
	require.NoError(t, reg.Start("two"))

	assert.Equal(t, 2, reg.StopAll())

	stats := reg.Stats()
	assert.Equal(t, 0, stats.Running)
	assert.Equal(t, 3, stats.Stopped)
	assert.Equal(t, stats.Total, stats.Running+stats.Starting+stats.Stopped+stats.Error)
}
