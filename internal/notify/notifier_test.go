package notify_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/db"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/notify"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

func newFixture(t *testing.T) (*store.Store, *notify.Emitter, *models.BuildJob) {
	t.Helper()
	gdb, err := db.InitSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	s := store.New(gdb)

	_, err = s.CreateWebsite("site-1")
	require.NoError(t, err)
	job, err := s.CreateJob("site-1", "u1", 0)
	require.NoError(t, err)

	// nil redis: persistence only, no live push.
	return s, notify.NewEmitter(s, nil), job
}

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "notify:user:u1", notify.ChannelFor("u1"))
}

func TestNotifyPersistsRow(t *testing.T) {
	s, em, job := newFixture(t)
	em.JobQueued(context.Background(), job, 2)

	notifications, err := s.ListNotifications("u1", false)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, models.NotificationQueued, notifications[0].Type)
	assert.Equal(t, job.ID, notifications[0].JobID)
	assert.Contains(t, notifications[0].Message, "position 2")
	assert.Equal(t, "/dashboard/websites/site-1", notifications[0].ActionURL)
	assert.False(t, notifications[0].Read)
}

func TestNotifyDeduplicatesPerJobAndType(t *testing.T) {
	s, em, job := newFixture(t)

	em.JobQueued(context.Background(), job, 1)
	em.JobQueued(context.Background(), job, 3)
	em.JobStarted(context.Background(), job)
	em.JobStarted(context.Background(), job)

	notifications, err := s.ListNotifications("u1", false)
	require.NoError(t, err)
	assert.Len(t, notifications, 2)
}

func TestTerminalNotificationSetsJobGuard(t *testing.T) {
	s, em, job := newFixture(t)

	em.JobCompleted(context.Background(), job, "http://localhost:4000")

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.True(t, got.NotificationSent)
}

func TestUnreadFilterAndMarkRead(t *testing.T) {
	s, em, job := newFixture(t)
	em.JobQueued(context.Background(), job, 1)
	em.JobFailed(context.Background(), job, "boom")

	unread, err := s.ListNotifications("u1", true)
	require.NoError(t, err)
	require.Len(t, unread, 2)

	require.NoError(t, s.MarkNotificationRead(unread[0].ID))

	unread, err = s.ListNotifications("u1", true)
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestSubscribeWithoutRedis(t *testing.T) {
	_, em, _ := newFixture(t)
	assert.Nil(t, em.Subscribe(context.Background(), "u1"))
}
