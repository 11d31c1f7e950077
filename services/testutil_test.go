package services

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"quizdash/database"
	"quizdash/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(
		&models.Challenge{},
		&models.UserChallengeStats{},
		&models.BankQuestion{},
	); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}

func testStores(t *testing.T) (*database.ChallengeStore, *database.StatsStore, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	return database.NewChallengeStore(db), database.NewStatsStore(db), db
}

func seedBankQuestions(t *testing.T, db *gorm.DB, subject string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		row := models.BankQuestion{
			Subject:       subject,
			Difficulty:    "medium",
			Prompt:        subject + " question " + uuid.NewString(),
			CorrectOption: 0,
		}
		if err := row.SetOptions([]string{"right", "wrong a", "wrong b", "wrong c"}); err != nil {
			t.Fatalf("failed encoding options: %v", err)
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("failed seeding bank question: %v", err)
		}
	}
}

func testQuestions(n int) []models.Question {
	questions := make([]models.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, models.Question{
			Prompt:        "q",
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: i % 4,
		})
	}
	return questions
}

func seedInProgressChallenge(t *testing.T, store *database.ChallengeStore, hostID, opponentID string, n int) *models.Challenge {
	t.Helper()

	ch := models.NewDirectChallenge(uuid.NewString(), hostID, "Host", opponentID, "Opponent",
		time.Now().UTC().Add(time.Minute))
	ch.Subject = "geography"
	ch.DurationSeconds = 60
	if err := ch.SetQuestions(testQuestions(n)); err != nil {
		t.Fatalf("failed encoding questions: %v", err)
	}
	if err := store.Create(context.Background(), ch); err != nil {
		t.Fatalf("failed creating challenge: %v", err)
	}
	ok, err := store.AcceptPending(context.Background(), ch.ID, opponentID, "Opponent", time.Now().UTC())
	if err != nil || !ok {
		t.Fatalf("failed accepting challenge: ok=%v err=%v", ok, err)
	}

	accepted, err := store.Get(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("failed reloading challenge: %v", err)
	}
	return accepted
}

// presentDirectory returns a directory that already knows the given users.
func presentDirectory(broker *Broker, userIDs ...string) *PresenceDirectory {
	d := NewPresenceDirectory(broker)
	for _, id := range userIDs {
		d.Heartbeat(id, "user-"+id)
	}
	return d
}
