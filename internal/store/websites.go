package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/models"
)

func (s *Store) GetWebsite(websiteID string) (*models.Website, error) {
	var website models.Website
	if err := s.DB.First(&website, "id = ?", websiteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWebsiteNotFound
		}
		return nil, err
	}
	return &website, nil
}

// CreateWebsite exists for the external upload handler and for tests.
func (s *Store) CreateWebsite(websiteID string) (*models.Website, error) {
	website := &models.Website{
		ID:          websiteID,
		BuildStatus: models.JobStatusPending,
	}
	if err := s.DB.Create(website).Error; err != nil {
		return nil, err
	}
	return website, nil
}

// SetWebsiteBuilding mirrors dispatch onto the website row.
func (s *Store) SetWebsiteBuilding(websiteID string) error {
	return s.updateWebsite(websiteID, map[string]interface{}{
		"build_status": models.JobStatusBuilding,
		"last_build_at": time.Now(),
	})
}

// SetWebsiteRunning records the live dev server: status, pid, port and
// preview URL, plus how long the build took.
func (s *Store) SetWebsiteRunning(websiteID, pid, previewURL string, port, durationSecs int) error {
	return s.updateWebsite(websiteID, map[string]interface{}{
		"build_status":   models.JobStatusRunning,
		"process_id":     pid,
		"preview_url":    previewURL,
		"port_number":    port,
		"last_build_at":  time.Now(),
		"build_duration": durationSecs,
	})
}

// SetWebsiteStopped clears all runtime fields. Used by stop, failure
// paths and the reaper; idempotent by construction.
func (s *Store) SetWebsiteStopped(websiteID, status string) error {
	return s.updateWebsite(websiteID, map[string]interface{}{
		"build_status": status,
		"process_id":   nil,
		"preview_url":  nil,
		"port_number":  nil,
	})
}

// SetWebsiteOutput keeps the tail of the build transcript on the
// website row for dashboard preview without loading full job logs.
func (s *Store) SetWebsiteOutput(websiteID, tail string) error {
	const maxTail = 4000
	if len(tail) > maxTail {
		tail = tail[len(tail)-maxTail:]
	}
	return s.updateWebsite(websiteID, map[string]interface{}{"build_output": tail})
}

func (s *Store) updateWebsite(websiteID string, updates map[string]interface{}) error {
	res := s.DB.Model(&models.Website{}).Where("id = ?", websiteID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWebsiteNotFound
	}
	return nil
}

// WebsitesInactiveSince lists reap candidates: websites whose latest
// build finished in a reclaimable state before the cutoff.
func (s *Store) WebsitesInactiveSince(cutoff time.Time) ([]models.Website, error) {
	var websites []models.Website
	err := s.DB.
		Where("build_status IN ?", []string{models.JobStatusRunning, models.JobStatusFailed, models.JobStatusStopped}).
		Where("last_build_at IS NOT NULL AND last_build_at < ?", cutoff).
		Find(&websites).Error
	if err != nil {
		return nil, err
	}
	return websites, nil
}

// WebsiteIDs returns the set of known website ids, for the reaper's
// orphan-directory scan.
func (s *Store) WebsiteIDs() (map[string]struct{}, error) {
	var ids []string
	if err := s.DB.Model(&models.Website{}).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// RunningWebsites returns websites the store believes have a live dev
// server, for allocator/registry reconciliation at startup.
func (s *Store) RunningWebsites() ([]models.Website, error) {
	var websites []models.Website
	err := s.DB.Where("build_status = ?", models.JobStatusRunning).Find(&websites).Error
	if err != nil {
		return nil, err
	}
	return websites, nil
}
