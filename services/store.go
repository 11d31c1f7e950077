// services/store.go - Record store contracts consumed by the services
package services

import (
	"context"
	"time"

	"quizdash/models"
)

// ChallengeStore is the narrow durable-storage contract for challenge
// records. Mutations are single atomic calls; the boolean results of the
// guarded updates report whether the predicate still held at write time,
// which is the only concurrency primitive the services rely on.
type ChallengeStore interface {
	Create(ctx context.Context, ch *models.Challenge) error
	Get(ctx context.Context, id string) (*models.Challenge, error)
	GetByShareCode(ctx context.Context, code string) (*models.Challenge, error)
	ListPendingByHost(ctx context.Context, hostID string, now time.Time) ([]models.Challenge, error)
	ListPendingForOpponent(ctx context.Context, userID string, now time.Time) ([]models.Challenge, error)

	// AcceptPending performs the race-safe pending -> in_progress transition.
	// The write applies only if the record is still pending, unexpired, and
	// the opponent slot is either empty (link) or already assigned to userID
	// (direct). Returns false when the predicate failed.
	AcceptPending(ctx context.Context, id, userID, userName string, now time.Time) (bool, error)

	// CancelPending applies pending -> cancelled; false when no longer pending.
	CancelPending(ctx context.Context, id string) (bool, error)

	// SetParticipantResult writes one side's score and finished flag. The
	// write is guarded on finished=false so a duplicate finish is a no-op;
	// the two roles touch disjoint columns and therefore commute.
	SetParticipantResult(ctx context.Context, id string, role models.Role, score int) (bool, error)

	// CompleteIfBothFinished applies in_progress -> completed once both
	// finished flags are set; false when another waiter already completed it
	// or a flag is still missing.
	CompleteIfBothFinished(ctx context.Context, id string, now time.Time) (bool, error)

	// ForceCompleteAbandoned completes a battle whose `absent` side never
	// finished, scoring it 0. The predicate requires that side to still be
	// unfinished, so a real finish racing the deadline wins.
	ForceCompleteAbandoned(ctx context.Context, id string, absent models.Role, now time.Time) (bool, error)
}

// StatsStore persists per-user long-term aggregates.
type StatsStore interface {
	GetStats(ctx context.Context, userID string) (*models.UserChallengeStats, error)
	SaveStats(ctx context.Context, stats *models.UserChallengeStats) error
}
