package build_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/build"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/db"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/notify"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/ports"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/procs"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

type fixture struct {
	store    *store.Store
	ports    *ports.Allocator
	registry *procs.Registry
	emitter  *notify.Emitter
	root     string
}

func newFixture(t *testing.T, firstPort, lastPort int) *fixture {
	t.Helper()
	gdb, err := db.InitSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	s := store.New(gdb)
	pa, err := ports.NewAllocator(firstPort, lastPort)
	require.NoError(t, err)
	return &fixture{
		store:    s,
		ports:    pa,
		registry: procs.NewRegistry(),
		emitter:  notify.NewEmitter(s, nil),
		root:     t.TempDir(),
	}
}

func (f *fixture) worker(install, buildCmd, start string) *build.Worker {
	return build.NewWorker(f.store, f.ports, f.registry, f.emitter, build.Config{
		Root:           f.root,
		InstallCommand: install,
		BuildCommand:   buildCmd,
		StartCommand:   start,
		PreviewHost:    "localhost",
		StepTimeout:    30 * time.Second,
		StartupTimeout: 3 * time.Second,
		StopGrace:      200 * time.Millisecond,
	})
}

// claimedJob creates a website plus a job already claimed as building,
// the state a worker receives from the scheduler.
func (f *fixture) claimedJob(t *testing.T, websiteID string) *models.BuildJob {
	t.Helper()
	_, err := f.store.CreateWebsite(websiteID)
	require.NoError(t, err)
	job, err := f.store.CreateJob(websiteID, "u1", 0)
	require.NoError(t, err)
	require.NoError(t, f.store.MarkQueued(job.ID))
	claimed, err := f.store.ClaimNextQueued()
	require.NoError(t, err)
	return claimed
}

func (f *fixture) makeWorkspace(t *testing.T, websiteID string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, websiteID), 0o755))
}

func freePort(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestRunMissingWorkspace(t *testing.T) {
	f := newFixture(t, 4000, 4010)
	job := f.claimedJob(t, "site-1")
	// No workspace directory on disk.

	f.worker("true", "", "sleep 30").Run(context.Background(), job)

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "re-upload")
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, 0, f.ports.InUse())
	assert.Equal(t, 0, f.registry.Len())
}

func TestRunInstallFailure(t *testing.T) {
	f := newFixture(t, 4000, 4010)
	job := f.claimedJob(t, "site-1")
	f.makeWorkspace(t, "site-1")

	f.worker("echo install blew up; exit 1", "", "sleep 30").Run(context.Background(), job)

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	// Progress stays frozen at the last completed milestone.
	assert.Equal(t, 10, got.Progress)
	assert.Contains(t, got.Logs, "install blew up")
	assert.Nil(t, got.AllocatedPort)

	website, err := f.store.GetWebsite("site-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, website.BuildStatus)
	assert.Contains(t, website.BuildOutput, "install blew up")

	assert.Equal(t, 0, f.ports.InUse())
	assert.Equal(t, 0, f.registry.Len())

	notifications, err := f.store.ListNotifications("u1", false)
	require.NoError(t, err)
	types := make([]string, 0, len(notifications))
	for _, n := range notifications {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, models.NotificationFailed)
}

func TestRunBuildStepFailure(t *testing.T) {
	f := newFixture(t, 4000, 4010)
	job := f.claimedJob(t, "site-1")
	f.makeWorkspace(t, "site-1")

	f.worker("true", "echo tsc exploded; exit 2", "sleep 30").Run(context.Background(), job)

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 40, got.Progress)
	assert.Contains(t, got.Logs, "tsc exploded")
	assert.Equal(t, 0, f.ports.InUse())
}

func TestRunServerExitsBeforeReady(t *testing.T) {
	f := newFixture(t, 4000, 4010)
	job := f.claimedJob(t, "site-1")
	f.makeWorkspace(t, "site-1")

	f.worker("true", "", "echo dying; exit 1").Run(context.Background(), job)

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "exited before becoming ready")
	assert.Equal(t, 0, f.ports.InUse())
	assert.Equal(t, 0, f.registry.Len())
}

func TestRunPortExhaustion(t *testing.T) {
	ln, port := freePort(t)
	defer ln.Close()

	f := newFixture(t, port, port)
	_, err := f.ports.Allocate("someone-else")
	require.NoError(t, err)

	job := f.claimedJob(t, "site-1")
	f.makeWorkspace(t, "site-1")

	f.worker("true", "", "sleep 30").Run(context.Background(), job)

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "no preview ports")
}

func TestRunThroughToRunning(t *testing.T) {
	// The readiness probe only checks that the port accepts connections,
	// so a listener held by the test stands in for the dev server.
	ln, port := freePort(t)
	defer ln.Close()

	f := newFixture(t, port, port)
	job := f.claimedJob(t, "site-1")
	f.makeWorkspace(t, "site-1")

	f.worker("echo deps ok", "", "sleep 30").Run(context.Background(), job)

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.AllocatedPort)
	assert.Equal(t, port, *got.AllocatedPort)
	require.NotNil(t, got.PreviewURL)
	assert.Equal(t, fmt.Sprintf("http://localhost:%d", port), *got.PreviewURL)

	website, err := f.store.GetWebsite("site-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, website.BuildStatus)
	require.NotNil(t, website.ProcessID)
	require.NotNil(t, website.PortNumber)
	assert.Equal(t, port, *website.PortNumber)

	handle, ok := f.registry.Get("site-1")
	require.True(t, ok)
	assert.False(t, handle.Exited())

	// Deliberate stop: terminal-mark first so the crash watcher backs off.
	require.NoError(t, f.store.MarkStopped(job.ID))
	require.NoError(t, f.registry.Stop("site-1", 200*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	got, err = f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStopped, got.Status)
}

func TestStopDuringStepLeavesStoppedState(t *testing.T) {
	f := newFixture(t, 4000, 4010)
	job := f.claimedJob(t, "site-1")
	f.makeWorkspace(t, "site-1")

	done := make(chan struct{})
	go func() {
		f.worker("sleep 1; exit 1", "", "sleep 30").Run(context.Background(), job)
		close(done)
	}()

	// Stop the job while the install step is still running.
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, f.store.MarkStopped(job.ID))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker never returned")
	}

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusStopped, got.Status)
	assert.Nil(t, got.Error)

	// The stop path owns the website row; the worker's failure path
	// must not flip it to failed behind the user's back.
	website, err := f.store.GetWebsite("site-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusBuilding, website.BuildStatus)

	notifications, err := f.store.ListNotifications("u1", false)
	require.NoError(t, err)
	for _, n := range notifications {
		assert.NotEqual(t, models.NotificationFailed, n.Type)
	}
}

func TestCrashFlipsRunningToFailed(t *testing.T) {
	ln, port := freePort(t)
	defer ln.Close()

	f := newFixture(t, port, port)
	job := f.claimedJob(t, "site-1")
	f.makeWorkspace(t, "site-1")

	f.worker("true", "", "sleep 30").Run(context.Background(), job)

	handle, ok := f.registry.Get("site-1")
	require.True(t, ok)

	// The dev server dies on its own.
	require.NoError(t, handle.Cmd.Process.Kill())

	require.Eventually(t, func() bool {
		got, err := f.store.GetJob(job.ID)
		return err == nil && got.Status == models.JobStatusFailed
	}, 5*time.Second, 50*time.Millisecond)

	got, err := f.store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "exited unexpectedly")

	website, err := f.store.GetWebsite("site-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, website.BuildStatus)
	assert.Nil(t, website.ProcessID)

	assert.Equal(t, 0, f.ports.InUse())
	assert.Equal(t, 0, f.registry.Len())
}
