package models

import "time"

// Build job lifecycle. A job is terminal once it reaches completed,
// failed, stopped or cancelled; running is stable but non-terminal.
const (
	JobStatusPending   = "pending"
	JobStatusQueued    = "queued"
	JobStatusBuilding  = "building"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusStopped   = "stopped"
	JobStatusCancelled = "cancelled"
)

type BuildJob struct {
	ID        string `gorm:"primaryKey" json:"id"`
	WebsiteID string `gorm:"index;not null" json:"website_id"`
	UserID    string `gorm:"index" json:"user_id"`

	Status      string `gorm:"index;default:'pending'" json:"status"`
	Priority    int    `gorm:"default:0" json:"priority"`
	Progress    int    `gorm:"default:0" json:"progress"`
	CurrentStep string `json:"current_step"`

	Logs  string  `gorm:"type:text" json:"logs"`
	Error *string `json:"error,omitempty"`

	AllocatedPort *int    `json:"allocated_port,omitempty"`
	PreviewURL    *string `json:"preview_url,omitempty"`

	// ActiveKey mirrors WebsiteID while the job is non-terminal and is
	// NULLed on every terminal transition. The unique index turns the
	// one-active-job-per-website rule into a database constraint.
	ActiveKey *string `gorm:"uniqueIndex" json:"-"`

	NotificationSent bool `gorm:"default:false" json:"notification_sent"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped, JobStatusCancelled:
		return true
	}
	return false
}
