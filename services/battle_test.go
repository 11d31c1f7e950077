package services

import (
	"context"
	"testing"

	"quizdash/apperrors"
	"quizdash/models"
)

func newTestBattle(t *testing.T, n int) (*Battle, *models.Challenge, *Broker) {
	t.Helper()
	store, _, _ := testStores(t)
	ch := seedInProgressChallenge(t, store, "host-1", "opp-1", n)

	broker := NewBroker()
	b, err := NewBattle(ch, models.RoleHost, "host-1", store, broker)
	if err != nil {
		t.Fatalf("NewBattle failed: %v", err)
	}
	return b, ch, broker
}

func TestBattleScoring(t *testing.T) {
	// Questions cycle correct options 0,1,2,3,0. Submit [0,1,2,2,1]: indexes
	// 0, 1 and 2 match, 3 and 4 miss.
	b, ch, _ := newTestBattle(t, 5)

	answers := []int{0, 1, 2, 2, 1}
	for i, a := range answers {
		if err := b.Submit(i, a); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
		if err := b.Advance(context.Background()); err != nil {
			t.Fatalf("Advance(%d) failed: %v", i, err)
		}
	}

	select {
	case <-b.Done():
	default:
		t.Fatal("battle should be finished after the last advance")
	}
	if got := b.Score(); got != 3 {
		t.Fatalf("expected score 3, got %d", got)
	}

	// The score must have landed on the record.
	reloaded, err := b.store.Get(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.HostScore != 3 || !reloaded.HostFinished {
		t.Fatalf("expected host_score=3 finished=true, got %d/%v", reloaded.HostScore, reloaded.HostFinished)
	}
}

func TestBattleSkippedQuestionScoresZero(t *testing.T) {
	b, _, _ := newTestBattle(t, 3)

	if err := b.Submit(0, 0); err != nil { // correct
		t.Fatalf("Submit failed: %v", err)
	}
	if err := b.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	// Skip question 1 entirely.
	if err := b.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := b.Submit(2, 2); err != nil { // correct
		t.Fatalf("Submit failed: %v", err)
	}
	if err := b.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if got := b.Score(); got != 2 {
		t.Fatalf("expected score 2 with one skip, got %d", got)
	}
}

func TestBattleSubmitRules(t *testing.T) {
	b, _, _ := newTestBattle(t, 3)

	if err := b.Submit(2, 0); !apperrors.Is(err, apperrors.ErrCodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for out-of-turn submit, got %v", err)
	}
	if err := b.Submit(0, 99); !apperrors.Is(err, apperrors.ErrCodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for option out of range, got %v", err)
	}

	if err := b.Submit(0, 1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	// Re-answering the same question is a silent no-op, not a score change.
	if err := b.Submit(0, 0); err != nil {
		t.Fatalf("repeat Submit should be a no-op, got %v", err)
	}
	if err := b.Advance(context.Background()); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if err := b.Finish(context.Background()); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if got := b.Score(); got != 0 {
		t.Fatalf("first answer must stand; expected score 0, got %d", got)
	}
}

func TestBattleDoubleFinishIsNoOp(t *testing.T) {
	b, ch, _ := newTestBattle(t, 2)

	if err := b.Submit(0, 0); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := b.Finish(context.Background()); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := b.Finish(context.Background()); err != nil {
		t.Fatalf("second Finish should be a no-op, got %v", err)
	}

	reloaded, err := b.store.Get(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.HostScore != 1 {
		t.Fatalf("double finish changed the score: %d", reloaded.HostScore)
	}
}

func TestBattleTimerExpiryFinishes(t *testing.T) {
	b, _, _ := newTestBattle(t, 3)
	b.remaining = 1

	if err := b.Submit(0, 0); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	b.tick(context.Background())

	select {
	case <-b.Done():
	default:
		t.Fatal("battle should finish when the clock reaches zero")
	}
	if got := b.Score(); got != 1 {
		t.Fatalf("expected partial score 1 on timeout, got %d", got)
	}
}

func TestBattleRejectsMalformedQuestionSet(t *testing.T) {
	store, _, _ := testStores(t)
	ch := seedInProgressChallenge(t, store, "host-1", "opp-1", 2)
	broker := NewBroker()

	for _, tc := range []struct {
		name   string
		mutate func(*models.Challenge)
	}{
		{"empty set", func(c *models.Challenge) { c.QuestionsJSON = "[]" }},
		{"malformed json", func(c *models.Challenge) { c.QuestionsJSON = "{nope" }},
		{"correct index out of range", func(c *models.Challenge) {
			_ = c.SetQuestions([]models.Question{{Prompt: "q", Options: []string{"a", "b"}, CorrectOption: 7}})
		}},
		{"single option", func(c *models.Challenge) {
			_ = c.SetQuestions([]models.Question{{Prompt: "q", Options: []string{"a"}, CorrectOption: 0}})
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bad := *ch
			tc.mutate(&bad)
			_, err := NewBattle(&bad, models.RoleHost, "host-1", store, broker)
			if !apperrors.Is(err, apperrors.ErrCodeValidation) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestBattleProgressEventLeaksIndexOnly(t *testing.T) {
	b, ch, broker := newTestBattle(t, 2)
	sub := broker.Subscribe(ChallengeTopic(ch.ID))
	defer broker.Unsubscribe(sub)

	if err := b.Submit(0, 1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ev := <-sub.C
	if ev.Type != "progress" {
		t.Fatalf("expected progress event, got %q", ev.Type)
	}
	if ev.Payload["question_index"] != 0 {
		t.Errorf("expected question_index 0, got %v", ev.Payload["question_index"])
	}
	for _, forbidden := range []string{"option_index", "correct", "correct_option", "score"} {
		if _, present := ev.Payload[forbidden]; present {
			t.Errorf("progress payload must not carry %q", forbidden)
		}
	}
}

func TestBattleManagerJoinIsIdempotent(t *testing.T) {
	store, _, _ := testStores(t)
	ch := seedInProgressChallenge(t, store, "host-1", "opp-1", 3)
	mgr := NewBattleManager(store, NewBroker())

	first, err := mgr.Join(context.Background(), ch, models.RoleHost, "host-1")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	second, err := mgr.Join(context.Background(), ch, models.RoleHost, "host-1")
	if err != nil {
		t.Fatalf("repeat Join failed: %v", err)
	}
	if first != second {
		t.Fatal("repeat join must return the same engine")
	}

	// The opponent gets an independent engine.
	opp, err := mgr.Join(context.Background(), ch, models.RoleOpponent, "opp-1")
	if err != nil {
		t.Fatalf("opponent Join failed: %v", err)
	}
	if opp == first {
		t.Fatal("roles must not share an engine")
	}

	mgr.Remove(ch.ID, models.RoleHost)
	if _, ok := mgr.Get(ch.ID, models.RoleHost); ok {
		t.Fatal("engine should be gone after Remove")
	}
}
