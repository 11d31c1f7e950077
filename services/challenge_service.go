// services/challenge_service.go - Challenge Lifecycle Manager
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quizdash/apperrors"
	"quizdash/logger"
	"quizdash/models"
	"quizdash/utils"
)

const (
	// DirectChallengeExpiry bounds how long a same-session invite stays open.
	DirectChallengeExpiry = 2 * time.Minute
	// LinkChallengeExpiry bounds how long a shareable invite stays open.
	LinkChallengeExpiry = 24 * time.Hour

	shareCodeLength      = 8
	shareCodeMaxAttempts = 3

	defaultDurationSeconds = 60
	defaultQuestionCount   = 5
	maxDurationSeconds     = 30 * 60
	maxQuestionCount       = 50
)

// ChallengeParams carries the host-chosen battle settings, fixed at creation.
type ChallengeParams struct {
	Subject         string `json:"subject"`
	Difficulty      string `json:"difficulty"`
	DurationSeconds int    `json:"duration_seconds"`
	QuestionCount   int    `json:"question_count"`
}

func (p *ChallengeParams) normalize() error {
	if p.Subject == "" {
		return apperrors.New(apperrors.ErrCodeValidation, "subject is required")
	}
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = defaultDurationSeconds
	}
	if p.DurationSeconds > maxDurationSeconds {
		return apperrors.New(apperrors.ErrCodeValidation, "duration too long")
	}
	if p.QuestionCount <= 0 {
		p.QuestionCount = defaultQuestionCount
	}
	if p.QuestionCount > maxQuestionCount {
		return apperrors.New(apperrors.ErrCodeValidation, "too many questions")
	}
	return nil
}

// ChallengeService owns the state machine of a challenge record: creation,
// race-safe acceptance, cancellation, and lazy expiry. It never takes locks;
// the only transition where mutual exclusion matters (accept) rides entirely
// on the store's conditional update.
type ChallengeService struct {
	store     ChallengeStore
	questions QuestionSource
	presence  *PresenceDirectory
	broker    *Broker
	notifier  Notifier
	now       func() time.Time
}

func NewChallengeService(store ChallengeStore, questions QuestionSource, presence *PresenceDirectory, broker *Broker, notifier Notifier) *ChallengeService {
	return &ChallengeService{
		store:     store,
		questions: questions,
		presence:  presence,
		broker:    broker,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateDirect creates a pending challenge targeting a currently-present
// opponent and notifies them.
func (s *ChallengeService) CreateDirect(ctx context.Context, hostID, hostName, opponentID, opponentName string, params ChallengeParams) (*models.Challenge, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}
	if opponentID == "" {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "opponent is required")
	}
	if opponentID == hostID {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "you cannot challenge yourself")
	}
	if !s.presence.IsPresent(opponentID) {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "opponent is not online")
	}

	ch := models.NewDirectChallenge(uuid.NewString(), hostID, hostName, opponentID, opponentName,
		s.now().Add(DirectChallengeExpiry))
	if err := s.fill(ctx, ch, params); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, ch); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to create challenge")
	}

	logger.Info("direct challenge created", "challenge_id", ch.ID, "host", hostID, "opponent", opponentID)
	s.notify(ctx, NotificationChallengeRequest, opponentID, map[string]interface{}{
		"challenge_id":     ch.ID,
		"host_id":          hostID,
		"host_name":        hostName,
		"subject":          ch.Subject,
		"difficulty":       ch.Difficulty,
		"duration_seconds": ch.DurationSeconds,
		"expires_at":       ch.ExpiresAt,
	})
	return ch, nil
}

// CreateLink creates a pending challenge with a share code and no
// pre-assigned opponent.
func (s *ChallengeService) CreateLink(ctx context.Context, hostID, hostName string, params ChallengeParams) (*models.Challenge, error) {
	if err := params.normalize(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < shareCodeMaxAttempts; attempt++ {
		ch := models.NewLinkChallenge(uuid.NewString(), hostID, hostName,
			utils.GenerateShareCode(shareCodeLength), s.now().Add(LinkChallengeExpiry))
		if err := s.fill(ctx, ch, params); err != nil {
			return nil, err
		}
		if err := s.store.Create(ctx, ch); err != nil {
			// Retry on the (unlikely) share-code collision.
			lastErr = err
			continue
		}
		logger.Info("link challenge created", "challenge_id", ch.ID, "host", hostID, "share_code", *ch.ShareCode)
		return ch, nil
	}
	return nil, apperrors.Wrap(lastErr, apperrors.ErrCodeInternalError, "failed to create challenge")
}

func (s *ChallengeService) fill(ctx context.Context, ch *models.Challenge, params ChallengeParams) error {
	ch.Subject = params.Subject
	ch.Difficulty = params.Difficulty
	ch.DurationSeconds = params.DurationSeconds

	questions, err := s.questions.Generate(ctx, params.Subject, params.Difficulty, params.QuestionCount, ch.ID)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return apperrors.New(apperrors.ErrCodeValidation, "question generation produced an empty set")
	}
	if err := ch.SetQuestions(questions); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to encode questions")
	}
	return ch.Validate()
}

// AcceptByID accepts a pending challenge addressed by id.
func (s *ChallengeService) AcceptByID(ctx context.Context, id, userID, userName string) (*models.Challenge, error) {
	ch, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.accept(ctx, ch, userID, userName)
}

// AcceptByCode accepts a pending link challenge addressed by share code.
func (s *ChallengeService) AcceptByCode(ctx context.Context, code, userID, userName string) (*models.Challenge, error) {
	ch, err := s.store.GetByShareCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.accept(ctx, ch, userID, userName)
}

// accept validates, then attempts the single conditional pending ->
// in_progress write. A rejected predicate is classified so "too late" is
// never conflated with infrastructure failure.
func (s *ChallengeService) accept(ctx context.Context, ch *models.Challenge, userID, userName string) (*models.Challenge, error) {
	// Validation rejects happen before any store mutation is attempted.
	if ch.HostID == userID {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "you cannot accept your own challenge")
	}
	if ch.Status == models.ChallengeStatusInProgress && ch.OpponentID != nil && *ch.OpponentID == userID {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "you already joined this challenge")
	}
	if err := s.rejectTerminal(ch); err != nil {
		return nil, err
	}
	if ch.Kind == models.ChallengeKindDirect && (ch.OpponentID == nil || *ch.OpponentID != userID) {
		return nil, apperrors.New(apperrors.ErrCodeForbidden, "this challenge targets another player")
	}

	now := s.now()
	ok, err := s.store.AcceptPending(ctx, ch.ID, userID, userName, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to accept challenge")
	}
	if !ok {
		// Re-read to report why the predicate failed.
		latest, readErr := s.store.Get(ctx, ch.ID)
		if readErr != nil {
			return nil, readErr
		}
		if err := s.rejectTerminal(latest); err != nil {
			return nil, err
		}
		return nil, apperrors.New(apperrors.ErrCodeConflict, "challenge was already accepted by another player")
	}

	accepted, err := s.store.Get(ctx, ch.ID)
	if err != nil {
		return nil, err
	}

	logger.Info("challenge accepted", "challenge_id", accepted.ID, "opponent", userID)
	s.notify(ctx, NotificationChallengeAccepted, accepted.HostID, map[string]interface{}{
		"challenge_id":  accepted.ID,
		"opponent_id":   userID,
		"opponent_name": userName,
	})
	s.broker.Publish(ChallengeTopic(accepted.ID), "challenge_accepted", map[string]interface{}{
		"challenge_id":  accepted.ID,
		"opponent_id":   userID,
		"opponent_name": userName,
		"started_at":    accepted.StartedAt,
	})
	return accepted, nil
}

// rejectTerminal maps non-acceptable states onto the error taxonomy.
func (s *ChallengeService) rejectTerminal(ch *models.Challenge) error {
	switch ch.EffectiveStatus(s.now()) {
	case models.ChallengeStatusPending:
		return nil
	case models.ChallengeStatusExpired:
		return apperrors.New(apperrors.ErrCodeExpired, "challenge is no longer available")
	case models.ChallengeStatusCancelled:
		return apperrors.New(apperrors.ErrCodeUnavailable, "challenge is no longer available")
	default:
		return apperrors.New(apperrors.ErrCodeConflict, "challenge was already accepted by another player")
	}
}

// Cancel applies the guarded pending -> cancelled transition. Host only; a
// battle that already started cannot be cancelled.
func (s *ChallengeService) Cancel(ctx context.Context, id, userID string) error {
	ch, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if ch.HostID != userID {
		return apperrors.New(apperrors.ErrCodeForbidden, "only the host can cancel a challenge")
	}
	if ch.Status == models.ChallengeStatusCancelled {
		return nil
	}

	ok, err := s.store.CancelPending(ctx, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to cancel challenge")
	}
	if !ok {
		latest, readErr := s.store.Get(ctx, id)
		if readErr != nil {
			return readErr
		}
		if latest.Status == models.ChallengeStatusCancelled {
			return nil
		}
		return apperrors.New(apperrors.ErrCodeConflict, "challenge already started")
	}

	logger.Info("challenge cancelled", "challenge_id", id, "host", userID)
	s.broker.Publish(ChallengeTopic(id), "challenge_cancelled", map[string]interface{}{
		"challenge_id": id,
	})
	return nil
}

// Get fetches a challenge by id, reporting lazy expiry in the status field.
func (s *ChallengeService) Get(ctx context.Context, id string) (*models.Challenge, error) {
	ch, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ch.Status = ch.EffectiveStatus(s.now())
	return ch, nil
}

// GetByCode resolves a share code. Expired invites read as unavailable.
func (s *ChallengeService) GetByCode(ctx context.Context, code string) (*models.Challenge, error) {
	ch, err := s.store.GetByShareCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if ch.IsExpired(s.now()) {
		return nil, apperrors.New(apperrors.ErrCodeExpired, "challenge is no longer available")
	}
	return ch, nil
}

// ListPending returns the caller's open invites, both the link challenges
// they host and the direct challenges addressed to them. Expired rows are
// filtered at read time, never rewritten.
func (s *ChallengeService) ListPending(ctx context.Context, userID string) ([]models.Challenge, error) {
	now := s.now()
	hosted, err := s.store.ListPendingByHost(ctx, userID, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to list challenges")
	}
	incoming, err := s.store.ListPendingForOpponent(ctx, userID, now)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to list challenges")
	}
	return append(hosted, incoming...), nil
}

// notify is fire-and-forget: a delivery failure is logged, never surfaced.
func (s *ChallengeService) notify(ctx context.Context, kind NotificationKind, target string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, kind, target, payload); err != nil {
		logger.Warn("notification delivery failed", "kind", string(kind), "target", target, "error", err)
	}
}
