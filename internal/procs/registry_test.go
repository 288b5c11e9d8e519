package procs

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", "sleep 60")
	require.NoError(t, cmd.Start())
	return cmd
}

func TestHandleObservesNaturalExit(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "true")
	require.NoError(t, cmd.Start())
	h := NewHandle("site-1", cmd, 4000)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process never reported exit")
	}
	assert.True(t, h.Exited())
	assert.NoError(t, h.ExitErr())
}

func TestHandleStopKillsProcess(t *testing.T) {
	h := NewHandle("site-1", startSleeper(t), 4000)
	assert.False(t, h.Exited())

	h.Stop(500 * time.Millisecond)
	assert.True(t, h.Exited())
}

func TestHandleStopAfterExitIsSafe(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "true")
	require.NoError(t, cmd.Start())
	h := NewHandle("site-1", cmd, 4000)
	<-h.Done()

	h.Stop(time.Second)
	h.Stop(time.Second)
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	h := NewHandle("site-1", startSleeper(t), 4000)
	r.Register("site-1", h)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("site-1")
	require.True(t, ok)
	assert.Equal(t, h.PID, got.PID)

	require.NoError(t, r.Stop("site-1", 500*time.Millisecond))
	assert.Equal(t, 0, r.Len())
	assert.True(t, h.Exited())

	_, ok = r.Get("site-1")
	assert.False(t, ok)
}

func TestRegistryStopUnknown(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Stop("nothing", time.Second), ErrNotRegistered)
}

func TestKillAll(t *testing.T) {
	r := NewRegistry()
	h1 := NewHandle("site-1", startSleeper(t), 4000)
	h2 := NewHandle("site-2", startSleeper(t), 4001)
	r.Register("site-1", h1)
	r.Register("site-2", h2)

	r.KillAll(500 * time.Millisecond)
	assert.Equal(t, 0, r.Len())
	assert.True(t, h1.Exited())
	assert.True(t, h2.Exited())
}

func TestAlivePID(t *testing.T) {
	assert.True(t, AlivePID(os.Getpid()))
	assert.False(t, AlivePID(0))
	assert.False(t, AlivePID(-5))
}

func TestKillPID(t *testing.T) {
	cmd := startSleeper(t)
	pid := cmd.Process.Pid

	require.NoError(t, KillPID(pid))

	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived KillPID")
	}

	// Killing a dead or nonsense pid is a no-op.
	assert.NoError(t, KillPID(0))
}
