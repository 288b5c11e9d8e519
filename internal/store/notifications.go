package store

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// CreateNotification inserts one notification per (job, type). A
// repeat for the same pair is swallowed by the unique index and
// reported as created=false, which is how the emitter avoids
// duplicates without a read-before-write race.
func (s *Store) CreateNotification(n *models.UserNotification) (bool, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := s.DB.Create(n).Error; err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ListNotifications(userID string, unreadOnly bool) ([]models.UserNotification, error) {
	q := s.DB.Where("user_id = ?", userID).Order("created_at DESC")
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var notifications []models.UserNotification
	if err := q.Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(id string) error {
	res := s.DB.Model(&models.UserNotification{}).Where("id = ?", id).Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *Store) DeleteNotification(id string) error {
	res := s.DB.Delete(&models.UserNotification{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// SetNotificationSent flips the job-level guard used for terminal
// notifications.
func (s *Store) SetNotificationSent(jobID string) error {
	err := s.DB.Model(&models.BuildJob{}).Where("id = ?", jobID).
		Update("notification_sent", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrJobNotFound
	}
	return err
}
