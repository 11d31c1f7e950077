// models/stats.go - Per-user challenge aggregates
package models

import (
	"time"
)

// UserChallengeStats is the long-term win/streak counter for one user.
// Mutated only by reconciliation, once per completed challenge.
type UserChallengeStats struct {
	UserID        string    `json:"user_id" gorm:"primaryKey;size:100"`
	TotalWins     int       `json:"total_wins" gorm:"default:0"`
	CurrentStreak int       `json:"current_streak" gorm:"default:0"`
	HighestStreak int       `json:"highest_streak" gorm:"default:0"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (UserChallengeStats) TableName() string {
	return "user_challenge_stats"
}

// ApplyResult folds one completed challenge into the aggregate.
// A win extends the streak, a loss resets it, a draw leaves it untouched.
func (s *UserChallengeStats) ApplyResult(won, draw bool) {
	switch {
	case won:
		s.TotalWins++
		s.CurrentStreak++
		if s.CurrentStreak > s.HighestStreak {
			s.HighestStreak = s.CurrentStreak
		}
	case draw:
		// no-op
	default:
		s.CurrentStreak = 0
	}
}
