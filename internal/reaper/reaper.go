package reaper

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/logging"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/metrics"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/ports"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/procs"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

var reaperLogger = logging.C("reaper")

type Config struct {
	Root              string
	Interval          time.Duration
	InactivityTimeout time.Duration
	DiskWarnBytes     int64
	StopGrace         time.Duration
}

// Reaper reclaims resources from inactive and orphaned builds: it
// stops stale dev servers, releases their ports, clears website state
// and removes build directories the job store no longer references.
// All sweeps are exported so tests and the admin API drive single
// deterministic passes instead of waiting on the ticker.
type Reaper struct {
	store    *store.Store
	registry *procs.Registry
	ports    *ports.Allocator
	cfg      Config

	now func() time.Time // injectable clock
}

func New(s *store.Store, reg *procs.Registry, pa *ports.Allocator, cfg Config) *Reaper {
	return &Reaper{
		store:    s,
		registry: reg,
		ports:    pa,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the reaper's clock. Tests only.
func (r *Reaper) SetClock(now func() time.Time) { r.now = now }

// Run drives periodic sweeps plus a daily maintenance pass.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	lastMaintenance := r.now()
	for {
		select {
		case <-ctx.Done():
			reaperLogger.Info("reaper stopping")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				reaperLogger.WithError(err).Error("sweep failed")
				metrics.IncReaperCycle("error")
			} else {
				metrics.IncReaperCycle("ok")
			}
			if err := r.SweepOrphans(ctx); err != nil {
				reaperLogger.WithError(err).Error("orphan sweep failed")
			}
			if r.now().Sub(lastMaintenance) >= 24*time.Hour {
				lastMaintenance = r.now()
				if _, err := r.ReportDiskUsage(ctx); err != nil {
					reaperLogger.WithError(err).Error("disk usage report failed")
				}
			}
		}
	}
}

// Sweep stops and clears every website whose build finished (or is
// still nominally running) but has been inactive past the timeout.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := r.now().Add(-r.cfg.InactivityTimeout)
	websites, err := r.store.WebsitesInactiveSince(cutoff)
	if err != nil {
		return err
	}
	for _, website := range websites {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.cleanupWebsite(website.ID)
		metrics.IncReclaimed("website")
	}
	return nil
}

// ForceCleanup bypasses inactivity checks. Idempotent: repeating it on
// an already-stopped website only re-removes the (absent) directory.
func (r *Reaper) ForceCleanup(websiteID string) error {
	if _, err := r.store.GetWebsite(websiteID); err != nil {
		return err
	}
	r.cleanupWebsite(websiteID)
	return nil
}

func (r *Reaper) cleanupWebsite(websiteID string) {
	log := reaperLogger.WithField("website_id", websiteID)

	// Terminal-mark the active job first so the worker's crash watcher
	// treats the process exit as deliberate.
	if job, err := r.store.ActiveJobForWebsite(websiteID); err == nil {
		if err := r.store.MarkStopped(job.ID); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			log.WithError(err).Warn("failed to stop active job")
		}
	}

	if err := r.registry.Stop(websiteID, r.cfg.StopGrace); errors.Is(err, procs.ErrNotRegistered) {
		// Registry entries die with the control process; fall back to
		// the persisted pid and re-validate before killing.
		if website, werr := r.store.GetWebsite(websiteID); werr == nil && website.ProcessID != nil {
			if pid, perr := strconv.Atoi(*website.ProcessID); perr == nil && procs.AlivePID(pid) {
				if kerr := procs.KillPID(pid); kerr != nil {
					log.WithError(kerr).WithField("pid", pid).Warn("failed to kill orphaned process")
				} else {
					metrics.IncReclaimed("process")
				}
			}
		}
	}

	r.ports.Release(websiteID)
	metrics.SetPortsInUse(r.ports.InUse())

	if err := r.store.SetWebsiteStopped(websiteID, models.JobStatusStopped); err != nil {
		log.WithError(err).Warn("failed to clear website state")
	}

	dir := filepath.Join(r.cfg.Root, websiteID)
	if err := os.RemoveAll(dir); err != nil {
		log.WithError(err).WithField("dir", dir).Warn("failed to remove build directory")
	}
	log.Info("website cleaned up")
}

// SweepOrphans removes build-root subdirectories with no website row.
// Only the reaper handles orphans; workers and the scheduler never do.
func (r *Reaper) SweepOrphans(ctx context.Context) error {
	known, err := r.store.WebsiteIDs()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(r.cfg.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		if _, ok := known[entry.Name()]; ok {
			continue
		}
		dir := filepath.Join(r.cfg.Root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			reaperLogger.WithError(err).WithField("dir", dir).Warn("failed to remove orphaned directory")
			continue
		}
		metrics.IncReclaimed("directory")
		reaperLogger.WithField("dir", dir).Info("removed orphaned build directory")
	}
	return nil
}

// ReportDiskUsage sums the build root and warns past the configured
// threshold.
func (r *Reaper) ReportDiskUsage(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(r.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: files vanish mid-walk
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	metrics.SetBuildRootBytes(total)
	if total > r.cfg.DiskWarnBytes {
		reaperLogger.WithField("bytes", total).WithField("threshold", r.cfg.DiskWarnBytes).
			Warn("build root disk usage above threshold")
	} else {
		reaperLogger.WithField("bytes", total).Info("build root disk usage")
	}
	return total, nil
}

// ReconcileOnStart re-validates persisted state after a control-process
// restart: registry entries are gone, so any website still marked
// running has its pid probed. Survivors that cannot be re-adopted are
// killed; either way the stale running state is cleared. Must run
// before the scheduler accepts work so the allocator cannot hand out a
// port a surviving child still binds.
func (r *Reaper) ReconcileOnStart(ctx context.Context) error {
	websites, err := r.store.RunningWebsites()
	if err != nil {
		return err
	}

	held := make(map[string]int)
	for _, website := range websites {
		log := reaperLogger.WithField("website_id", website.ID)

		alive := false
		if website.ProcessID != nil {
			if pid, perr := strconv.Atoi(*website.ProcessID); perr == nil && procs.AlivePID(pid) {
				alive = true
				if kerr := procs.KillPID(pid); kerr != nil {
					log.WithError(kerr).WithField("pid", pid).Warn("surviving dev server could not be killed")
					if website.PortNumber != nil {
						held[website.ID] = *website.PortNumber
					}
					continue
				}
				log.WithField("pid", pid).Info("killed dev server from previous run")
			}
		}
		if !alive {
			log.Info("clearing stale running state from previous run")
		}

		if job, jerr := r.store.ActiveJobForWebsite(website.ID); jerr == nil {
			_ = r.store.MarkStopped(job.ID)
		}
		_ = r.store.SetWebsiteStopped(website.ID, models.JobStatusStopped)
	}

	// Ports still bound by unkillable survivors stay reserved.
	r.ports.Reconcile(held)
	metrics.SetPortsInUse(r.ports.InUse())
	return nil
}
