package models

import "time"

type Website struct {
	ID string `gorm:"primaryKey" json:"id"`

	BuildStatus string `gorm:"index;default:'pending'" json:"build_status"`

	// ProcessID holds the OS pid of the dev server as a string so the
	// reaper can re-validate liveness after a control-process restart.
	ProcessID  *string `json:"process_id,omitempty"`
	PreviewURL *string `json:"preview_url,omitempty"`
	PortNumber *int    `json:"port_number,omitempty"`

	BuildOutput   string     `gorm:"type:text" json:"build_output"`
	LastBuildAt   *time.Time `json:"last_build_at,omitempty"`
	BuildDuration *int       `json:"build_duration,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
