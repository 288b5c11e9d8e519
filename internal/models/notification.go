package models

import "time"

const (
	NotificationQueued    = "queued"
	NotificationStarted   = "started"
	NotificationCompleted = "completed"
	NotificationFailed    = "failed"
)

type UserNotification struct {
	ID     string `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"index;not null" json:"user_id"`
	JobID  string `gorm:"index:idx_job_type,unique;not null" json:"job_id"`
	Type   string `gorm:"index:idx_job_type,unique;not null" json:"type"`

	Title     string `json:"title"`
	Message   string `json:"message"`
	Read      bool   `gorm:"default:false" json:"read"`
	ActionURL string `json:"action_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
