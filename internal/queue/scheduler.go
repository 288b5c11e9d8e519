package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/build"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/logging"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/metrics"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/notify"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/ports"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/procs"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

var schedLogger = logging.C("queue.scheduler")

// Scheduler admits jobs into the queue and dispatches them to build
// workers without ever exceeding the concurrency cap. Ordering is
// priority first, then FIFO within a band; both are enforced by the
// store's claim query, so the loop here stays small.
type Scheduler struct {
	store    *store.Store
	worker   *build.Worker
	registry *procs.Registry
	ports    *ports.Allocator
	notifier *notify.Emitter

	slots     chan struct{}
	kick      chan struct{}
	stopGrace time.Duration

	mu      sync.Mutex
	cancels map[string]*jobCancel
}

// jobCancel interrupts one dispatched job's pipeline context, so a stop
// request can kill a step that is still installing or building.
type jobCancel struct {
	fn context.CancelFunc
}

func NewScheduler(s *store.Store, w *build.Worker, reg *procs.Registry, pa *ports.Allocator, em *notify.Emitter, maxConcurrent int, stopGrace time.Duration) *Scheduler {
	return &Scheduler{
		store:     s,
		worker:    w,
		registry:  reg,
		ports:     pa,
		notifier:  em,
		slots:     make(chan struct{}, maxConcurrent),
		kick:      make(chan struct{}, 1),
		stopGrace: stopGrace,
		cancels:   make(map[string]*jobCancel),
	}
}

// Enqueue creates and queues a job for a website, returning the job
// and its position. A second enqueue while another job is active fails
// with store.ErrBuildInProgress.
func (s *Scheduler) Enqueue(ctx context.Context, websiteID, userID string, priority int) (*models.BuildJob, int, error) {
	job, err := s.store.CreateJob(websiteID, userID, priority)
	if err != nil {
		return nil, 0, err
	}
	if err := s.store.MarkQueued(job.ID); err != nil {
		// Release the active-build reservation so the website is not
		// wedged by a job that never made it into the queue.
		_ = s.store.MarkCancelled(job.ID)
		return nil, 0, err
	}
	job.Status = models.JobStatusQueued

	position, err := s.store.QueuePosition(job.ID)
	if err != nil {
		position = 0
	}
	s.notifier.JobQueued(ctx, job, position)
	s.Kick()
	return job, position, nil
}

// Kick nudges the dispatch loop; safe from any goroutine, never blocks.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run is the dispatch loop. Event-driven via Kick with a ticker
// fallback; it never blocks on a build step.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			schedLogger.Info("dispatch loop stopping")
			return
		case <-s.kick:
		case <-ticker.C:
		}
		s.dispatch(ctx)
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		select {
		case s.slots <- struct{}{}:
		default:
			return // cap reached, jobs stay queued
		}

		job, err := s.store.ClaimNextQueued()
		if err != nil {
			<-s.slots
			if !errors.Is(err, store.ErrNothingQueued) {
				schedLogger.WithError(err).Error("failed to claim next job")
			}
			return
		}

		metrics.IncDispatched()
		schedLogger.WithField("job_id", job.ID).WithField("priority", job.Priority).Info("dispatching build")

		// Each job runs under its own context so StopBuild can kill an
		// in-flight pipeline step, not just the finished dev server.
		jobCtx, cancel := context.WithCancel(ctx)
		entry := s.registerCancel(job.WebsiteID, cancel)

		go func(job *models.BuildJob) {
			defer func() {
				s.releaseCancel(job.WebsiteID, entry)
				<-s.slots
				s.Kick()
			}()
			s.worker.Run(jobCtx, job)
		}(job)
	}
}

func (s *Scheduler) registerCancel(websiteID string, fn context.CancelFunc) *jobCancel {
	entry := &jobCancel{fn: fn}
	s.mu.Lock()
	s.cancels[websiteID] = entry
	s.mu.Unlock()
	return entry
}

// releaseCancel drops the entry only if it is still ours; a restarted
// website may already have a newer job registered under the same key.
func (s *Scheduler) releaseCancel(websiteID string, entry *jobCancel) {
	s.mu.Lock()
	if s.cancels[websiteID] == entry {
		delete(s.cancels, websiteID)
	}
	s.mu.Unlock()
	entry.fn()
}

func (s *Scheduler) cancelActive(websiteID string) {
	s.mu.Lock()
	entry := s.cancels[websiteID]
	s.mu.Unlock()
	if entry != nil {
		entry.fn()
	}
}

// Cancel aborts a job that has never been dispatched. It transitions
// straight to cancelled and touches neither the port allocator nor the
// process registry.
func (s *Scheduler) Cancel(jobID string) error {
	return s.store.MarkCancelled(jobID)
}

// Retry clones a failed job into a fresh queued one.
func (s *Scheduler) Retry(ctx context.Context, jobID string) (*models.BuildJob, int, error) {
	job, err := s.store.RetryJob(jobID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.store.MarkQueued(job.ID); err != nil {
		_ = s.store.MarkCancelled(job.ID)
		return nil, 0, err
	}
	job.Status = models.JobStatusQueued

	position, err := s.store.QueuePosition(job.ID)
	if err != nil {
		position = 0
	}
	s.notifier.JobQueued(ctx, job, position)
	s.Kick()
	return job, position, nil
}

// StopBuild gracefully stops a website's build or running server.
// Idempotent: a website with nothing active is already stopped.
func (s *Scheduler) StopBuild(websiteID string) error {
	job, err := s.store.ActiveJobForWebsite(websiteID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch job.Status {
	case models.JobStatusPending, models.JobStatusQueued:
		return s.store.MarkCancelled(job.ID)
	}

	// Mark stopped first so the crash watcher and the worker's failure
	// path both see a deliberate stop.
	if err := s.store.MarkStopped(job.ID); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}
	// Kill any step still running; a job that is mid-install holds no
	// registry entry yet, only its pipeline context.
	s.cancelActive(websiteID)
	if err := s.registry.Stop(websiteID, s.stopGrace); err != nil && !errors.Is(err, procs.ErrNotRegistered) {
		return err
	}
	s.ports.Release(websiteID)
	metrics.SetPortsInUse(s.ports.InUse())
	return s.store.SetWebsiteStopped(websiteID, models.JobStatusStopped)
}

// Restart stops whatever remains of a failed or stopped build and
// enqueues a fresh job.
func (s *Scheduler) Restart(ctx context.Context, websiteID, userID string, priority int) (*models.BuildJob, int, error) {
	website, err := s.store.GetWebsite(websiteID)
	if err != nil {
		return nil, 0, err
	}
	if website.BuildStatus != models.JobStatusFailed && website.BuildStatus != models.JobStatusStopped {
		return nil, 0, store.ErrInvalidTransition
	}
	if err := s.StopBuild(websiteID); err != nil {
		return nil, 0, err
	}
	return s.Enqueue(ctx, websiteID, userID, priority)
}

func (s *Scheduler) QueuePosition(jobID string) (int, error) {
	return s.store.QueuePosition(jobID)
}

type Stats struct {
	store.QueueStats
	SlotsInUse int `json:"slots_in_use"`
	SlotCap    int `json:"slot_cap"`
	Registered int `json:"registered_processes"`
}

func (s *Scheduler) Stats() (*Stats, error) {
	qs, err := s.store.Stats()
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		QueueStats: *qs,
		SlotsInUse: len(s.slots),
		SlotCap:    cap(s.slots),
		Registered: s.registry.Len(),
	}

	metrics.SetJobsStatus(models.JobStatusPending, float64(qs.Pending))
	metrics.SetJobsStatus(models.JobStatusQueued, float64(qs.Queued))
	metrics.SetJobsStatus(models.JobStatusBuilding, float64(qs.Building))
	metrics.SetJobsStatus(models.JobStatusRunning, float64(qs.Running))
	return stats, nil
}

// Shutdown stops all supervised processes, used on control-process
// exit.
func (s *Scheduler) Shutdown() {
	s.registry.KillAll(s.stopGrace)
}
