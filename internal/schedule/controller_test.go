package schedule

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testController(t *testing.T) *Controller {
	dir := t.TempDir()
	return NewController(
		filepath.Join(dir, "scheduler.pid"),
		filepath.Join(dir, "scheduler.log"),
		[]string{"schedule", "daemon"},
		discardLogger(),
	)
}

func TestControllerStatusStopped(t *testing.T) {
	c := testController(t)
	state, marker, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)
	assert.Nil(t, marker)
}

func TestControllerStatusRunning(t *testing.T) {
	c := testController(t)
	// Our own pid is guaranteed alive.
	require.NoError(t, c.WriteOwnMarker())

	state, marker, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)
	require.NotNil(t, marker)
	assert.Equal(t, os.Getpid(), marker.PID)
	assert.WithinDuration(t, time.Now(), marker.StartedAt, time.Minute)
}

func TestControllerStatusStale(t *testing.T) {
	c := testController(t)
	// A pid beyond the kernel's pid space cannot be alive.
	content := fmt.Sprintf("%d %s\n", 1<<30, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(c.pidFile, []byte(content), 0o600))

	state, marker, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateStale, state)
	require.NotNil(t, marker)
	assert.Equal(t, 1<<30, marker.PID)
}

func TestControllerStatusMalformedMarkerIsStale(t *testing.T) {
	c := testController(t)
	require.NoError(t, os.WriteFile(c.pidFile, []byte("not-a-pid\n"), 0o600))

	state, _, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateStale, state)
}

func TestControllerStartRefusesWhenRunning(t *testing.T) {
	c := testController(t)
	require.NoError(t, c.WriteOwnMarker())

	err := c.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestControllerStartRespectsPendingClaim(t *testing.T) {
	c := testController(t)
	// An empty marker is what a concurrent Start's exclusive create looks
	// like before the pid is written; it must not be stolen.
	require.NoError(t, os.MkdirAll(filepath.Dir(c.pidFile), 0o755))
	require.NoError(t, os.WriteFile(c.pidFile, nil, 0o600))

	err := c.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	_, statErr := os.Stat(c.pidFile)
	assert.NoError(t, statErr, "the pending claim survives")
}

func TestControllerStopWithoutMarker(t *testing.T) {
	c := testController(t)
	assert.ErrorIs(t, c.Stop(), ErrNotRunning)
}

func TestControllerStopStaleMarker(t *testing.T) {
	c := testController(t)
	content := fmt.Sprintf("%d %s\n", 1<<30, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(c.pidFile, []byte(content), 0o600))

	err := c.Stop()
	assert.ErrorIs(t, err, ErrStale)

	_, statErr := os.Stat(c.pidFile)
	assert.True(t, os.IsNotExist(statErr), "stale marker is cleaned up")
}

func TestControllerTouchRefreshesMarker(t *testing.T) {
	c := testController(t)
	require.NoError(t, c.WriteOwnMarker())

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(c.pidFile, old, old))

	c.Touch()

	info, err := os.Stat(c.pidFile)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), time.Minute)
}

func TestControllerRemoveMarker(t *testing.T) {
	c := testController(t)
	require.NoError(t, c.WriteOwnMarker())
	c.RemoveMarker()

	state, _, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, state)
}

func TestMarkerRoundTrip(t *testing.T) {
	c := testController(t)
	started := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.writeMarker(PidMarker{PID: 4242, StartedAt: started}))

	marker, err := c.readMarker()
	require.NoError(t, err)
	assert.Equal(t, 4242, marker.PID)
	assert.True(t, marker.StartedAt.Equal(started))
}
