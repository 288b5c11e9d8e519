package store

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid"
	"gorm.io/gorm"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
)

var (
	ErrJobNotFound       = errors.New("build job not found")
	ErrWebsiteNotFound   = errors.New("website not found")
	ErrBuildInProgress   = errors.New("website already has an active build")
	ErrInvalidTransition = errors.New("job status does not permit this operation")
	ErrNothingQueued     = errors.New("no queued jobs")
)

// Store owns all persistence for build jobs, website build state and
// user notifications. Every other component reads and writes through
// it; the in-memory allocator and registry are caches, this is the
// source of truth.
type Store struct {
	DB *gorm.DB
}

func New(gdb *gorm.DB) *Store {
	return &Store{DB: gdb}
}

func newJobID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CreateJob inserts a pending job holding the website's active-build
// reservation. The unique index on active_key rejects a second
// concurrent enqueue for the same website at the database, not in
// application code.
func (s *Store) CreateJob(websiteID, userID string, priority int) (*models.BuildJob, error) {
	var website models.Website
	if err := s.DB.First(&website, "id = ?", websiteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebsiteNotFound
		}
		return nil, err
	}

	active := websiteID
	job := &models.BuildJob{
		ID:        newJobID(),
		WebsiteID: websiteID,
		UserID:    userID,
		Status:    models.JobStatusPending,
		Priority:  priority,
		ActiveKey: &active,
	}
	if err := s.DB.Create(job).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrBuildInProgress
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) GetJob(jobID string) (*models.BuildJob, error) {
	var job models.BuildJob
	if err := s.DB.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// LatestJobForWebsite returns the most recently created job for a
// website, regardless of status.
func (s *Store) LatestJobForWebsite(websiteID string) (*models.BuildJob, error) {
	var job models.BuildJob
	err := s.DB.Where("website_id = ?", websiteID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ActiveJobForWebsite returns the website's single non-terminal job.
func (s *Store) ActiveJobForWebsite(websiteID string) (*models.BuildJob, error) {
	var job models.BuildJob
	err := s.DB.Where("active_key = ?", websiteID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobsByStatus(statuses ...string) ([]models.BuildJob, error) {
	var jobs []models.BuildJob
	if err := s.DB.Where("status IN ?", statuses).Order("created_at ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkQueued moves a pending job into the queue.
func (s *Store) MarkQueued(jobID string) error {
	return s.transition(jobID, []string{models.JobStatusPending}, map[string]interface{}{
		"status": models.JobStatusQueued,
	})
}

// ClaimNextQueued atomically selects the dispatchable job with the
// highest priority (FIFO within a band) and flips it to building. The
// optimistic WHERE status='queued' guard means two dispatch loops can
// never claim the same job; the caller retries on a lost race.
func (s *Store) ClaimNextQueued() (*models.BuildJob, error) {
	for {
		var job models.BuildJob
		err := s.DB.Where("status = ?", models.JobStatusQueued).
			Order("priority DESC, created_at ASC").
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNothingQueued
			}
			return nil, err
		}

		now := time.Now()
		res := s.DB.Model(&models.BuildJob{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":     models.JobStatusBuilding,
				"started_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue // lost the claim, pick again
		}
		job.Status = models.JobStatusBuilding
		job.StartedAt = &now
		return &job, nil
	}
}

// SetProgress records the current step and advances progress. The
// WHERE progress <= ? guard keeps observed progress monotonically
// non-decreasing even if a stale writer fires after cancellation.
func (s *Store) SetProgress(jobID string, progress int, step string) error {
	return s.DB.Model(&models.BuildJob{}).
		Where("id = ? AND progress <= ?", jobID, progress).
		Updates(map[string]interface{}{
			"progress":     progress,
			"current_step": step,
		}).Error
}

// AppendLogs appends captured step output to the job's log transcript.
// Read-modify-write is safe here: a job's logs are only written by the
// single worker that owns it.
func (s *Store) AppendLogs(jobID, output string) error {
	if output == "" {
		return nil
	}
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	logs := job.Logs
	if logs != "" && logs[len(logs)-1] != '\n' {
		logs += "\n"
	}
	logs += output
	return s.DB.Model(&models.BuildJob{}).Where("id = ?", jobID).
		Update("logs", logs).Error
}

// MarkRunning records a successful pipeline: dev server up on port.
// Running is stable but non-terminal, so the active-key reservation is
// kept until the server stops or dies.
func (s *Store) MarkRunning(jobID string, port int, previewURL string) error {
	return s.transition(jobID, []string{models.JobStatusBuilding}, map[string]interface{}{
		"status":         models.JobStatusRunning,
		"progress":       100,
		"current_step":   "running",
		"allocated_port": port,
		"preview_url":    previewURL,
	})
}

// MarkFailed freezes progress at its last value and surfaces a short
// human-readable error; the full transcript stays in logs.
func (s *Store) MarkFailed(jobID, message string) error {
	return s.terminal(jobID,
		[]string{models.JobStatusBuilding, models.JobStatusRunning, models.JobStatusQueued},
		models.JobStatusFailed,
		map[string]interface{}{"error": truncateError(message)})
}

func (s *Store) MarkStopped(jobID string) error {
	return s.terminal(jobID,
		[]string{models.JobStatusRunning, models.JobStatusBuilding},
		models.JobStatusStopped, nil)
}

func (s *Store) MarkCompleted(jobID string) error {
	return s.terminal(jobID,
		[]string{models.JobStatusRunning, models.JobStatusBuilding},
		models.JobStatusCompleted,
		map[string]interface{}{"progress": 100})
}

// MarkCancelled is only legal before the job has ever been dispatched.
func (s *Store) MarkCancelled(jobID string) error {
	return s.terminal(jobID,
		[]string{models.JobStatusPending, models.JobStatusQueued},
		models.JobStatusCancelled, nil)
}

// transition applies updates iff the job is currently in one of the
// allowed states. ErrInvalidTransition when the guard misses.
func (s *Store) transition(jobID string, from []string, updates map[string]interface{}) error {
	res := s.DB.Model(&models.BuildJob{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetJob(jobID); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *Store) terminal(jobID string, from []string, status string, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":         status,
		"active_key":     nil,
		"allocated_port": nil,
		"completed_at":   time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	return s.transition(jobID, from, updates)
}

// RetryJob clones a failed job's inputs into a fresh pending job. The
// original record is never mutated.
func (s *Store) RetryJob(jobID string) (*models.BuildJob, error) {
	orig, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.JobStatusFailed {
		return nil, ErrInvalidTransition
	}
	return s.CreateJob(orig.WebsiteID, orig.UserID, orig.Priority)
}

// QueuePosition is the job's rank among not-yet-started work: queued
// or building jobs that outrank it by priority, or tie on priority and
// were created earlier, plus one. Recomputed on every call since the
// queue drains continuously.
func (s *Store) QueuePosition(jobID string) (int, error) {
	job, err := s.GetJob(jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != models.JobStatusQueued && job.Status != models.JobStatusPending {
		return 0, nil
	}
	var ahead int64
	err = s.DB.Model(&models.BuildJob{}).
		Where("status IN ?", []string{models.JobStatusQueued, models.JobStatusBuilding}).
		Where("priority > ? OR (priority = ? AND created_at < ?)", job.Priority, job.Priority, job.CreatedAt).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}

type QueueStats struct {
	Pending   int64 `json:"pending"`
	Queued    int64 `json:"queued"`
	Building  int64 `json:"building"`
	Running   int64 `json:"running"`
	Failed    int64 `json:"failed"`
	Completed int64 `json:"completed"`
	Stopped   int64 `json:"stopped"`
	Cancelled int64 `json:"cancelled"`
}

func (s *Store) Stats() (*QueueStats, error) {
	stats := &QueueStats{}
	counts := map[string]*int64{
		models.JobStatusPending:   &stats.Pending,
		models.JobStatusQueued:    &stats.Queued,
		models.JobStatusBuilding:  &stats.Building,
		models.JobStatusRunning:   &stats.Running,
		models.JobStatusFailed:    &stats.Failed,
		models.JobStatusCompleted: &stats.Completed,
		models.JobStatusStopped:   &stats.Stopped,
		models.JobStatusCancelled: &stats.Cancelled,
	}
	for status, dst := range counts {
		if err := s.DB.Model(&models.BuildJob{}).Where("status = ?", status).Count(dst).Error; err != nil {
			return nil, err
		}
	}
	return stats, nil
}

const maxErrorLen = 500

func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen] + "..."
	}
	return msg
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// sqlite and mysql surface constraint violations as driver errors
	// that gorm does not always translate.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "constraint violation")
}
