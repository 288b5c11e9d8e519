package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/logging"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/metrics"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

var notifyLogger = logging.C("notify")

// ChannelFor is the redis pub/sub channel carrying a user's
// notification stream; the SSE handler subscribes to it.
func ChannelFor(userID string) string {
	return "notify:user:" + userID
}

// Emitter writes notification rows on job-state transitions and pushes
// them over redis for live consumers. The (job_id, type) unique index
// in the store makes emission idempotent per transition.
type Emitter struct {
	store *store.Store
	rdb   *redis.Client
}

// NewEmitter accepts a nil redis client; persistence still happens and
// only the live push degrades.
func NewEmitter(s *store.Store, rdb *redis.Client) *Emitter {
	return &Emitter{store: s, rdb: rdb}
}

func (e *Emitter) Notify(ctx context.Context, userID, jobID, typ, title, message, actionURL string) error {
	n := &models.UserNotification{
		UserID:    userID,
		JobID:     jobID,
		Type:      typ,
		Title:     title,
		Message:   message,
		ActionURL: actionURL,
	}
	created, err := e.store.CreateNotification(n)
	if err != nil {
		return err
	}
	if !created {
		return nil // already emitted for this (job, type)
	}
	metrics.IncNotification(typ)

	if typ == models.NotificationCompleted || typ == models.NotificationFailed {
		if err := e.store.SetNotificationSent(jobID); err != nil {
			notifyLogger.WithError(err).WithField("job_id", jobID).Warn("failed to set notification guard")
		}
	}

	if e.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := e.rdb.Publish(ctx, ChannelFor(userID), payload).Err(); err != nil {
		// Push is best-effort; the row is persisted and pollable.
		notifyLogger.WithError(err).WithField("user_id", userID).Warn("redis publish failed")
	}
	return nil
}

func (e *Emitter) JobQueued(ctx context.Context, job *models.BuildJob, position int) {
	e.emit(ctx, job, models.NotificationQueued, "Build queued",
		fmt.Sprintf("Your website build is queued at position %d.", position))
}

func (e *Emitter) JobStarted(ctx context.Context, job *models.BuildJob) {
	e.emit(ctx, job, models.NotificationStarted, "Build started",
		"Your website build has started.")
}

func (e *Emitter) JobCompleted(ctx context.Context, job *models.BuildJob, previewURL string) {
	e.emit(ctx, job, models.NotificationCompleted, "Build completed",
		fmt.Sprintf("Your website is live at %s.", previewURL))
}

func (e *Emitter) JobFailed(ctx context.Context, job *models.BuildJob, reason string) {
	e.emit(ctx, job, models.NotificationFailed, "Build failed",
		fmt.Sprintf("Your website build failed: %s", reason))
}

func (e *Emitter) emit(ctx context.Context, job *models.BuildJob, typ, title, message string) {
	actionURL := "/dashboard/websites/" + job.WebsiteID
	if err := e.Notify(ctx, job.UserID, job.ID, typ, title, message, actionURL); err != nil {
		notifyLogger.WithError(err).WithField("job_id", job.ID).Error("failed to emit notification")
	}
}

// Subscribe opens the user's live channel for SSE streaming. The
// caller owns the returned PubSub and must Close it.
func (e *Emitter) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	if e.rdb == nil {
		return nil
	}
	return e.rdb.Subscribe(ctx, ChannelFor(userID))
}
