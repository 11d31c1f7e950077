// services/cleanup.go - Retention purge for old challenge rows
package services

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"quizdash/logger"
	"quizdash/models"
)

const (
	// cleanupInterval is the purge cadence.
	cleanupInterval = time.Hour
	// defaultRetention is how long terminal and stale-pending rows are kept.
	defaultRetention = 30 * 24 * time.Hour
)

// CleanupService purges challenge rows nobody can act on anymore: completed
// and cancelled battles past the retention window, and pending rows whose
// deadline passed long ago. Expiry itself stays lazy; this worker only
// reclaims storage, it never changes what readers observe.
type CleanupService struct {
	db        *gorm.DB
	retention time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

func NewCleanupService(db *gorm.DB) *CleanupService {
	return &CleanupService{
		db:        db,
		retention: defaultRetention,
		stop:      make(chan struct{}),
	}
}

// Start runs the purge loop until Stop is called.
func (s *CleanupService) Start() {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.purge()
			case <-s.stop:
				return
			}
		}
	}()
	logger.Info("cleanup service started", "retention", s.retention.String())
}

// Stop terminates the purge loop.
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *CleanupService) purge() {
	cutoff := time.Now().UTC().Add(-s.retention)

	res := s.db.
		Where("status IN ? AND created_at < ?",
			[]models.ChallengeStatus{models.ChallengeStatusCompleted, models.ChallengeStatusCancelled}, cutoff).
		Delete(&models.Challenge{})
	if res.Error != nil {
		logger.Error("failed to purge terminal challenges", "error", res.Error)
	} else if res.RowsAffected > 0 {
		logger.Info("purged terminal challenges", "count", res.RowsAffected)
	}

	res = s.db.
		Where("status = ? AND expires_at < ?", models.ChallengeStatusPending, cutoff).
		Delete(&models.Challenge{})
	if res.Error != nil {
		logger.Error("failed to purge stale pending challenges", "error", res.Error)
	} else if res.RowsAffected > 0 {
		logger.Info("purged stale pending challenges", "count", res.RowsAffected)
	}
}
