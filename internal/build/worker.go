package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/logging"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/metrics"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/notify"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/ports"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/procs"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/runner"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

var workerLogger = logging.C("build.worker")

// Progress milestones. Values only move forward; a failed step leaves
// progress frozen at the last completed milestone.
const (
	progressPreparing = 10
	progressInstalled = 40
	progressBuilt     = 70
	progressStarting  = 85
)

type Config struct {
	Root           string
	InstallCommand string
	BuildCommand   string // empty skips the build step
	StartCommand   string
	PreviewHost    string
	StepTimeout    time.Duration
	StartupTimeout time.Duration
	StopGrace      time.Duration
}

// Worker executes one job's build pipeline: install dependencies,
// optionally build, then start and supervise the dev server. A worker
// owns a single job at a time; the scheduler fans out up to its cap.
type Worker struct {
	store    *store.Store
	ports    *ports.Allocator
	registry *procs.Registry
	notifier *notify.Emitter
	cfg      Config
}

func NewWorker(s *store.Store, pa *ports.Allocator, reg *procs.Registry, em *notify.Emitter, cfg Config) *Worker {
	return &Worker{store: s, ports: pa, registry: reg, notifier: em, cfg: cfg}
}

// Workspace is the website's extracted project directory.
func (w *Worker) Workspace(websiteID string) string {
	return filepath.Join(w.cfg.Root, websiteID)
}

// Run drives the pipeline for a job already claimed as building. Step
// errors become job state; Run itself only returns the terminal
// outcome for the scheduler's bookkeeping.
func (w *Worker) Run(ctx context.Context, job *models.BuildJob) {
	started := time.Now()
	log := workerLogger.WithField("job_id", job.ID).WithField("website_id", job.WebsiteID)

	if err := w.store.SetWebsiteBuilding(job.WebsiteID); err != nil {
		log.WithError(err).Error("failed to mark website building")
	}
	w.notifier.JobStarted(ctx, job)

	workspace := w.Workspace(job.WebsiteID)
	if _, err := os.Stat(workspace); err != nil {
		w.fail(ctx, job, started, "project files not found; re-upload the website archive", "")
		return
	}
	_ = w.store.SetProgress(job.ID, progressPreparing, "preparing workspace")

	// Step 1: dependency installation.
	res := runner.Run(ctx, runner.Step{
		Name:    "install dependencies",
		Command: w.cfg.InstallCommand,
		Dir:     workspace,
		Timeout: w.cfg.StepTimeout,
	})
	_ = w.store.AppendLogs(job.ID, res.Output)
	if res.Failed() {
		w.fail(ctx, job, started, res.Err.Error(), res.Output)
		return
	}
	_ = w.store.SetProgress(job.ID, progressInstalled, "dependencies installed")

	// Step 2: optional type-check/build.
	if w.cfg.BuildCommand != "" {
		res = runner.Run(ctx, runner.Step{
			Name:    "build project",
			Command: w.cfg.BuildCommand,
			Dir:     workspace,
			Timeout: w.cfg.StepTimeout,
		})
		_ = w.store.AppendLogs(job.ID, res.Output)
		if res.Failed() {
			w.fail(ctx, job, started, res.Err.Error(), res.Output)
			return
		}
	}
	_ = w.store.SetProgress(job.ID, progressBuilt, "project built")

	// Step 3: start the dev server on an allocated port.
	port, err := w.ports.Allocate(job.WebsiteID)
	if err != nil {
		w.fail(ctx, job, started, "no preview ports available, try again later", "")
		return
	}
	metrics.SetPortsInUse(w.ports.InUse())
	_ = w.store.SetProgress(job.ID, progressStarting, "starting dev server")

	cmd, out := runner.PrepareServer(runner.Step{
		Name:    "start dev server",
		Command: w.cfg.StartCommand,
		Dir:     workspace,
	}, port)
	if err := cmd.Start(); err != nil {
		w.ports.Release(job.WebsiteID)
		metrics.SetPortsInUse(w.ports.InUse())
		w.fail(ctx, job, started, fmt.Sprintf("dev server failed to start: %v", err), out.String())
		return
	}

	handle := procs.NewHandle(job.WebsiteID, cmd, port)
	w.registry.Register(job.WebsiteID, handle)

	if err := runner.WaitReady(ctx, handle.Done(), port, w.cfg.StartupTimeout); err != nil {
		w.registry.Remove(job.WebsiteID)
		handle.Stop(w.cfg.StopGrace)
		w.ports.Release(job.WebsiteID)
		metrics.SetPortsInUse(w.ports.InUse())
		_ = w.store.AppendLogs(job.ID, out.String())
		w.fail(ctx, job, started, err.Error(), out.String())
		return
	}

	previewURL := fmt.Sprintf("http://%s:%d", w.cfg.PreviewHost, port)
	duration := int(time.Since(started).Seconds())

	if err := w.store.MarkRunning(job.ID, port, previewURL); err != nil {
		// The job was cancelled or stopped under us; tear down.
		log.WithError(err).Warn("job no longer building, tearing down dev server")
		w.registry.Remove(job.WebsiteID)
		handle.Stop(w.cfg.StopGrace)
		w.ports.Release(job.WebsiteID)
		metrics.SetPortsInUse(w.ports.InUse())
		return
	}
	_ = w.store.SetWebsiteRunning(job.WebsiteID, strconv.Itoa(handle.PID), previewURL, port, duration)
	_ = w.store.SetWebsiteOutput(job.WebsiteID, out.String())

	w.notifier.JobCompleted(ctx, job, previewURL)
	metrics.ObserveBuild("success", time.Since(started))
	log.WithField("port", port).WithField("pid", handle.PID).Info("dev server running")

	go w.watchCrash(job, handle)
}

// watchCrash flips a running job to failed if its dev server dies on
// its own. An intentional stop marks the job stopped first, so the
// guarded transition below becomes a no-op in that case.
func (w *Worker) watchCrash(job *models.BuildJob, handle *procs.Handle) {
	<-handle.Done()

	err := w.store.MarkFailed(job.ID, "dev server exited unexpectedly")
	if errors.Is(err, store.ErrInvalidTransition) {
		return // stopped or reaped deliberately
	}
	if err != nil {
		workerLogger.WithError(err).WithField("job_id", job.ID).Error("failed to record dev server crash")
		return
	}

	w.registry.Remove(job.WebsiteID)
	w.ports.Release(job.WebsiteID)
	metrics.SetPortsInUse(w.ports.InUse())
	_ = w.store.SetWebsiteStopped(job.WebsiteID, models.JobStatusFailed)

	w.notifier.JobFailed(context.Background(), job, "dev server exited unexpectedly")
	workerLogger.WithField("job_id", job.ID).Warn("dev server crashed while running")
}

func (w *Worker) fail(ctx context.Context, job *models.BuildJob, started time.Time, reason, output string) {
	err := w.store.MarkFailed(job.ID, reason)
	if errors.Is(err, store.ErrInvalidTransition) {
		// The job was stopped or cancelled under us; the stop path owns
		// the website row and the user never asked for a failure.
		workerLogger.WithField("job_id", job.ID).Info("step failed after deliberate stop, leaving state alone")
		return
	}
	if err != nil {
		workerLogger.WithError(err).WithField("job_id", job.ID).Error("failed to mark job failed")
	}
	_ = w.store.SetWebsiteStopped(job.WebsiteID, models.JobStatusFailed)
	if output != "" {
		_ = w.store.SetWebsiteOutput(job.WebsiteID, output)
	}
	w.notifier.JobFailed(ctx, job, reason)
	metrics.ObserveBuild("failed", time.Since(started))
	workerLogger.WithField("job_id", job.ID).WithField("reason", reason).Warn("build failed")
}
