// database/challenge_store.go - GORM-backed challenge and stats stores
package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"quizdash/apperrors"
	"quizdash/models"
)

// ChallengeStore persists challenge records. Every guarded mutation is a
// single conditional UPDATE; the row count tells the caller whether its
// predicate still held, which is what makes concurrent acceptors and
// completers safe without explicit locks.
type ChallengeStore struct {
	db *gorm.DB
}

func NewChallengeStore(db *gorm.DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

func (s *ChallengeStore) Create(ctx context.Context, ch *models.Challenge) error {
	if err := s.db.WithContext(ctx).Create(ch).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to create challenge")
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, id string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.db.WithContext(ctx).First(&ch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "challenge not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to load challenge")
	}
	return &ch, nil
}

func (s *ChallengeStore) GetByShareCode(ctx context.Context, code string) (*models.Challenge, error) {
	var ch models.Challenge
	err := s.db.WithContext(ctx).First(&ch, "share_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "challenge not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to load challenge")
	}
	return &ch, nil
}

func (s *ChallengeStore) ListPendingByHost(ctx context.Context, hostID string, now time.Time) ([]models.Challenge, error) {
	var list []models.Challenge
	err := s.db.WithContext(ctx).
		Where("host_id = ? AND status = ? AND expires_at > ?", hostID, models.ChallengeStatusPending, now).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to list challenges")
	}
	return list, nil
}

func (s *ChallengeStore) ListPendingForOpponent(ctx context.Context, userID string, now time.Time) ([]models.Challenge, error) {
	var list []models.Challenge
	err := s.db.WithContext(ctx).
		Where("opponent_id = ? AND status = ? AND expires_at > ?", userID, models.ChallengeStatusPending, now).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to list challenges")
	}
	return list, nil
}

// AcceptPending claims a pending challenge for userID. One conditional write
// covers both kinds: a direct challenge already names its opponent, a link
// challenge has an empty slot, and the predicate admits exactly those two
// shapes. Whichever concurrent acceptor's UPDATE matches first wins; every
// other contender sees zero rows.
func (s *ChallengeStore) AcceptPending(ctx context.Context, id, userID, userName string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND status = ? AND expires_at > ? AND (opponent_id IS NULL OR opponent_id = ?)",
			id, models.ChallengeStatusPending, now, userID).
		Updates(map[string]interface{}{
			"status":        models.ChallengeStatusInProgress,
			"opponent_id":   userID,
			"opponent_name": userName,
			"started_at":    now,
		})
	if res.Error != nil {
		return false, apperrors.Wrap(res.Error, apperrors.ErrCodeInternalError, "failed to accept challenge")
	}
	return res.RowsAffected > 0, nil
}

func (s *ChallengeStore) CancelPending(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND status = ?", id, models.ChallengeStatusPending).
		Update("status", models.ChallengeStatusCancelled)
	if res.Error != nil {
		return false, apperrors.Wrap(res.Error, apperrors.ErrCodeInternalError, "failed to cancel challenge")
	}
	return res.RowsAffected > 0, nil
}

// SetParticipantResult writes one side's score and finished flag. Each role
// touches only its own pair of columns, so host and opponent writes never
// conflict; the finished=false guard makes a duplicate write a no-op.
func (s *ChallengeStore) SetParticipantResult(ctx context.Context, id string, role models.Role, score int) (bool, error) {
	scoreCol, finishedCol := "host_score", "host_finished"
	if role == models.RoleOpponent {
		scoreCol, finishedCol = "opponent_score", "opponent_finished"
	}

	res := s.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND status = ? AND "+finishedCol+" = ?", id, models.ChallengeStatusInProgress, false).
		Updates(map[string]interface{}{
			scoreCol:    score,
			finishedCol: true,
		})
	if res.Error != nil {
		return false, apperrors.Wrap(res.Error, apperrors.ErrCodeInternalError, "failed to record result")
	}
	return res.RowsAffected > 0, nil
}

// CompleteIfBothFinished is the terminal transition. With several waiters
// racing, the status predicate admits exactly one of them.
func (s *ChallengeStore) CompleteIfBothFinished(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND status = ? AND host_finished = ? AND opponent_finished = ?",
			id, models.ChallengeStatusInProgress, true, true).
		Updates(map[string]interface{}{
			"status":       models.ChallengeStatusCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, apperrors.Wrap(res.Error, apperrors.ErrCodeInternalError, "failed to complete challenge")
	}
	return res.RowsAffected > 0, nil
}

// ForceCompleteAbandoned completes a battle whose absent side never reported,
// scoring that side zero. The guard requires the absent side to still be
// unfinished: a real finish that lands first makes this write miss, and the
// regular completion path takes over.
func (s *ChallengeStore) ForceCompleteAbandoned(ctx context.Context, id string, absent models.Role, now time.Time) (bool, error) {
	scoreCol, finishedCol := "host_score", "host_finished"
	if absent == models.RoleOpponent {
		scoreCol, finishedCol = "opponent_score", "opponent_finished"
	}

	res := s.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ? AND status = ? AND "+finishedCol+" = ?", id, models.ChallengeStatusInProgress, false).
		Updates(map[string]interface{}{
			scoreCol:       0,
			finishedCol:    true,
			"status":       models.ChallengeStatusCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, apperrors.Wrap(res.Error, apperrors.ErrCodeInternalError, "failed to force-complete challenge")
	}
	return res.RowsAffected > 0, nil
}

// StatsStore persists per-user aggregates.
type StatsStore struct {
	db *gorm.DB
}

func NewStatsStore(db *gorm.DB) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) GetStats(ctx context.Context, userID string) (*models.UserChallengeStats, error) {
	var stats models.UserChallengeStats
	err := s.db.WithContext(ctx).First(&stats, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "stats not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to load stats")
	}
	return &stats, nil
}

func (s *StatsStore) SaveStats(ctx context.Context, stats *models.UserChallengeStats) error {
	if err := s.db.WithContext(ctx).Save(stats).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to save stats")
	}
	return nil
}
