// services/reconcile.go - Result reconciliation and waiting room
package services

import (
	"context"
	"sync"
	"time"

	"quizdash/apperrors"
	"quizdash/logger"
	"quizdash/models"
)

const (
	// reconcilePollInterval backs up the event path: even if every broadcast
	// is missed, the waiter still converges on the stored record.
	reconcilePollInterval = 2 * time.Second
	// defaultAbandonGrace is added past the battle's nominal end before a
	// one-sided battle is force-completed. Zero disables force completion.
	defaultAbandonGrace = 30 * time.Second
)

// Outcome is the reconciled result of a completed challenge. WinnerID is nil
// for a draw.
type Outcome struct {
	ChallengeID   string  `json:"challenge_id"`
	Status        string  `json:"status"`
	WinnerID      *string `json:"winner_id"`
	Draw          bool    `json:"draw"`
	HostScore     int     `json:"host_score"`
	OpponentScore int     `json:"opponent_score"`
}

// Reconciler drives challenges from in_progress to completed and settles the
// long-term aggregates. Any number of waiters may race on the same challenge;
// the guarded completion write makes exactly one of them the completer.
type Reconciler struct {
	store  ChallengeStore
	stats  StatsStore
	broker *Broker

	poll  time.Duration
	grace time.Duration
	now   func() time.Time

	mu      sync.Mutex
	settled map[string]struct{}
}

func NewReconciler(store ChallengeStore, stats StatsStore, broker *Broker, grace time.Duration) *Reconciler {
	return &Reconciler{
		store:   store,
		stats:   stats,
		broker:  broker,
		poll:    reconcilePollInterval,
		grace:   grace,
		now:     func() time.Time { return time.Now().UTC() },
		settled: make(map[string]struct{}),
	}
}

// Await blocks until the challenge reaches completed (or the context ends)
// and returns its outcome, updating selfID's aggregates along the way. It
// listens for participant_finished events and re-reads the record both
// immediately and on a poll interval, so a finish that landed before the
// subscription, or whose event was dropped, is still observed.
func (r *Reconciler) Await(ctx context.Context, challengeID, selfID string) (*Outcome, error) {
	sub := r.broker.Subscribe(ChallengeTopic(challengeID))
	defer r.broker.Unsubscribe(sub)

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		outcome, settled, err := r.check(ctx, challengeID, selfID)
		if err != nil {
			return nil, err
		}
		if settled {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case _, ok := <-sub.C:
			if !ok {
				// Topic dropped: the challenge is terminal, read once more.
				outcome, settled, err := r.check(ctx, challengeID, selfID)
				if err != nil {
					return nil, err
				}
				if settled {
					return outcome, nil
				}
				return nil, apperrors.New(apperrors.ErrCodeInternalError, "challenge channel closed before completion")
			}
		}
	}
}

// Result returns the outcome of an already-completed challenge without
// waiting.
func (r *Reconciler) Result(ctx context.Context, challengeID string) (*Outcome, error) {
	ch, err := r.store.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.Status != models.ChallengeStatusCompleted {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "challenge is not completed yet")
	}
	return outcomeOf(ch), nil
}

// check reads the record once and, if it is ready, performs the completion
// and settlement. Returns settled=false while the battle is still live.
func (r *Reconciler) check(ctx context.Context, challengeID, selfID string) (*Outcome, bool, error) {
	ch, err := r.store.Get(ctx, challengeID)
	if err != nil {
		return nil, false, err
	}

	switch ch.Status {
	case models.ChallengeStatusCompleted:
		if err := r.settle(ctx, ch, selfID, false); err != nil {
			return nil, false, err
		}
		return outcomeOf(ch), true, nil

	case models.ChallengeStatusCancelled, models.ChallengeStatusExpired:
		return nil, false, apperrors.New(apperrors.ErrCodeUnavailable, "challenge ended without a result")

	case models.ChallengeStatusInProgress:
		if ch.BothFinished() {
			won, err := r.store.CompleteIfBothFinished(ctx, challengeID, r.now())
			if err != nil {
				return nil, false, err
			}
			ch, err = r.store.Get(ctx, challengeID)
			if err != nil {
				return nil, false, err
			}
			if ch.Status != models.ChallengeStatusCompleted {
				// The racing completer has not landed yet; keep waiting.
				return nil, false, nil
			}
			if err := r.settle(ctx, ch, selfID, won); err != nil {
				return nil, false, err
			}
			return outcomeOf(ch), true, nil
		}

		if r.forceDue(ch) {
			if err := r.forceComplete(ctx, ch); err != nil {
				logger.Warn("force completion failed", "challenge_id", ch.ID, "error", err)
			}
			// Re-read on the next iteration either way; a real finish may
			// have beaten the force write.
		}
		return nil, false, nil

	default:
		return nil, false, nil
	}
}

// forceDue reports whether the abandonment grace deadline has passed for a
// battle that still has an unfinished side.
func (r *Reconciler) forceDue(ch *models.Challenge) bool {
	if r.grace <= 0 || ch.StartedAt == nil {
		return false
	}
	deadline := ch.StartedAt.Add(time.Duration(ch.DurationSeconds)*time.Second + r.grace)
	return r.now().After(deadline)
}

func (r *Reconciler) forceComplete(ctx context.Context, ch *models.Challenge) error {
	absent := models.RoleHost
	if ch.HostFinished {
		absent = models.RoleOpponent
	}
	forced, err := r.store.ForceCompleteAbandoned(ctx, ch.ID, absent, r.now())
	if err != nil {
		return err
	}
	if forced {
		logger.Info("force-completed abandoned battle", "challenge_id", ch.ID, "absent_role", string(absent))
	}
	return nil
}

// settle updates the calling participant's aggregates and, when this waiter
// won the completion write, announces the result on the challenge topic.
// Each participant settles its own row, so the two settlements commute.
func (r *Reconciler) settle(ctx context.Context, ch *models.Challenge, selfID string, announcer bool) error {
	role, ok := ch.RoleOf(selfID)
	if ok && r.markSettled(ch.ID, selfID) {
		winner := ch.WinnerID()
		draw := winner == nil
		won := !draw && *winner == selfID

		stats, err := r.stats.GetStats(ctx, selfID)
		if err != nil {
			if !apperrors.Is(err, apperrors.ErrCodeNotFound) {
				return err
			}
			stats = &models.UserChallengeStats{UserID: selfID}
		}
		stats.ApplyResult(won, draw)
		if err := r.stats.SaveStats(ctx, stats); err != nil {
			return err
		}
		logger.Debug("settled participant stats",
			"challenge_id", ch.ID, "user_id", selfID, "role", string(role), "won", won, "draw", draw)
	}

	if announcer {
		outcome := outcomeOf(ch)
		payload := map[string]interface{}{
			"challenge_id":   outcome.ChallengeID,
			"draw":           outcome.Draw,
			"host_score":     outcome.HostScore,
			"opponent_score": outcome.OpponentScore,
		}
		if outcome.WinnerID != nil {
			payload["winner_id"] = *outcome.WinnerID
		}
		r.broker.Publish(ChallengeTopic(ch.ID), "challenge_completed", payload)
	}
	return nil
}

// markSettled records that selfID's aggregates for this challenge were
// applied in this process; a repeat waiter (reconnect) must not apply twice.
func (r *Reconciler) markSettled(challengeID, selfID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := challengeID + "/" + selfID
	if _, done := r.settled[key]; done {
		return false
	}
	r.settled[key] = struct{}{}
	return true
}

func outcomeOf(ch *models.Challenge) *Outcome {
	winner := ch.WinnerID()
	return &Outcome{
		ChallengeID:   ch.ID,
		Status:        string(ch.Status),
		WinnerID:      winner,
		Draw:          winner == nil,
		HostScore:     ch.HostScore,
		OpponentScore: ch.OpponentScore,
	}
}
