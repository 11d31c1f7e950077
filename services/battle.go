// services/battle.go - Battle Execution Engine
package services

import (
	"context"
	"sync"
	"time"

	"quizdash/apperrors"
	"quizdash/logger"
	"quizdash/models"
)

const unanswered = -1

// Battle drives one participant through the shared question sequence within
// the shared time budget, independent of the opponent's pace. The two sides
// communicate only through the immutable challenge record and broadcast
// progress events, never directly.
type Battle struct {
	ChallengeID string
	Role        models.Role
	PlayerID    string

	questions []models.Question
	duration  int

	mu        sync.Mutex
	idx       int
	answers   []int
	remaining int
	finished  bool
	score     int

	store  ChallengeStore
	broker *Broker
	done   chan struct{}
}

// NewBattle validates the question set and builds an engine instance.
// Degenerate input fails fast into "cannot start" rather than entering the
// timer loop.
func NewBattle(ch *models.Challenge, role models.Role, playerID string, store ChallengeStore, broker *Broker) (*Battle, error) {
	questions, err := ch.GetQuestions()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "cannot start battle: malformed question set")
	}
	if len(questions) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "cannot start battle: empty question set")
	}
	for _, q := range questions {
		if len(q.Options) < 2 || q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
			return nil, apperrors.New(apperrors.ErrCodeValidation, "cannot start battle: malformed question set")
		}
	}
	if ch.DurationSeconds <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "cannot start battle: no time budget")
	}

	answers := make([]int, len(questions))
	for i := range answers {
		answers[i] = unanswered
	}

	return &Battle{
		ChallengeID: ch.ID,
		Role:        role,
		PlayerID:    playerID,
		questions:   questions,
		duration:    ch.DurationSeconds,
		answers:     answers,
		remaining:   ch.DurationSeconds,
		store:       store,
		broker:      broker,
		done:        make(chan struct{}),
	}, nil
}

// Start runs the 1-second timer loop until the battle finishes or the
// context is cancelled. Cancellation stops the clock without finishing: an
// abandoned battle simply never reports, which reconciliation handles.
func (b *Battle) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.tick(ctx)
			case <-b.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Battle) tick(ctx context.Context) {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return
	}
	b.remaining--
	expired := b.remaining <= 0
	b.mu.Unlock()

	if expired {
		if err := b.Finish(ctx); err != nil {
			logger.Error("battle finish on timeout failed", "challenge_id", b.ChallengeID, "error", err)
		}
	}
}

// Submit records the answer for the current question. Allowed once per
// question; a repeat call for an already-answered index is a no-op. The
// progress event carries the index only — never the chosen option or its
// correctness — so the opponent cannot infer answers.
func (b *Battle) Submit(questionIndex, optionIndex int) error {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return nil
	}
	if questionIndex != b.idx {
		b.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeValidation, "answer does not target the current question")
	}
	if b.answers[questionIndex] != unanswered {
		b.mu.Unlock()
		return nil
	}
	if optionIndex < 0 || optionIndex >= len(b.questions[questionIndex].Options) {
		b.mu.Unlock()
		return apperrors.New(apperrors.ErrCodeValidation, "answer option out of range")
	}
	b.answers[questionIndex] = optionIndex
	b.mu.Unlock()

	b.broker.Publish(ChallengeTopic(b.ChallengeID), "progress", map[string]interface{}{
		"player_id":      b.PlayerID,
		"role":           string(b.Role),
		"question_index": questionIndex,
	})
	return nil
}

// Advance moves the pointer to the next question. Skipping past an
// unanswered question leaves its slot empty, which scores as incorrect.
// Reaching the end of the sequence finishes the battle.
func (b *Battle) Advance(ctx context.Context) error {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return nil
	}
	b.idx++
	atEnd := b.idx >= len(b.questions)
	b.mu.Unlock()

	if atEnd {
		return b.Finish(ctx)
	}
	return nil
}

// Finish computes the participant's score and writes its own score/finished
// pair exactly once. A second call is a no-op; the store guard additionally
// protects the record against a duplicate write from a restarted engine.
func (b *Battle) Finish(ctx context.Context) error {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return nil
	}
	b.finished = true

	score := 0
	for i, answer := range b.answers {
		if answer == b.questions[i].CorrectOption {
			score++
		}
	}
	b.score = score
	b.mu.Unlock()
	close(b.done)

	wrote, err := b.store.SetParticipantResult(ctx, b.ChallengeID, b.Role, score)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to record result")
	}
	if !wrote {
		logger.Warn("participant result already recorded", "challenge_id", b.ChallengeID, "role", string(b.Role))
		return nil
	}

	logger.Info("participant finished", "challenge_id", b.ChallengeID, "role", string(b.Role), "score", score)
	b.broker.Publish(ChallengeTopic(b.ChallengeID), "participant_finished", map[string]interface{}{
		"player_id": b.PlayerID,
		"role":      string(b.Role),
	})
	return nil
}

// Done is closed once the battle finished (by answers, timer, or finish).
func (b *Battle) Done() <-chan struct{} {
	return b.done
}

// Score returns the computed score; valid once Done is closed.
func (b *Battle) Score() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.score
}

// BattleState is a snapshot for presentation.
type BattleState struct {
	CurrentIndex  int  `json:"current_index"`
	TotalQuestions int `json:"total_questions"`
	TimeRemaining int  `json:"time_remaining"`
	Finished      bool `json:"finished"`
}

func (b *Battle) Snapshot() BattleState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BattleState{
		CurrentIndex:   b.idx,
		TotalQuestions: len(b.questions),
		TimeRemaining:  b.remaining,
		Finished:       b.finished,
	}
}

// Questions exposes the immutable question set for the joining client.
func (b *Battle) Questions() []models.Question {
	return b.questions
}

// BattleManager is the registry of running engines, one per challenge side.
type BattleManager struct {
	mu      sync.Mutex
	battles map[string]*Battle
	store   ChallengeStore
	broker  *Broker
}

func NewBattleManager(store ChallengeStore, broker *Broker) *BattleManager {
	return &BattleManager{
		battles: make(map[string]*Battle),
		store:   store,
		broker:  broker,
	}
}

func battleKey(challengeID string, role models.Role) string {
	return challengeID + "/" + string(role)
}

// Join returns the participant's running engine, starting one on first call.
func (m *BattleManager) Join(ctx context.Context, ch *models.Challenge, role models.Role, playerID string) (*Battle, error) {
	if ch.Status != models.ChallengeStatusInProgress {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "challenge is not in progress")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := battleKey(ch.ID, role)
	if b, ok := m.battles[key]; ok {
		return b, nil
	}

	b, err := NewBattle(ch, role, playerID, m.store, m.broker)
	if err != nil {
		return nil, err
	}
	m.battles[key] = b
	b.Start(ctx)
	logger.Info("battle started", "challenge_id", ch.ID, "role", string(role), "player", playerID)
	return b, nil
}

// Get returns a running engine, if any.
func (m *BattleManager) Get(challengeID string, role models.Role) (*Battle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.battles[battleKey(challengeID, role)]
	return b, ok
}

// Remove drops a finished or abandoned engine from the registry.
func (m *BattleManager) Remove(challengeID string, role models.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.battles, battleKey(challengeID, role))
}
