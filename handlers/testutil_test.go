package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"quizdash/database"
	"quizdash/middleware"
	"quizdash/models"
	"quizdash/services"
)

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	presence *services.PresenceDirectory
	broker   *services.Broker
}

func setupTestEnv(t *testing.T) *testEnv {
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

	broker := services.NewBroker()
	presence := services.NewPresenceDirectory(broker)
	challengeStore := database.NewChallengeStore(db)
	statsStore := database.NewStatsStore(db)
	challengeService := services.NewChallengeService(
		challengeStore, services.NewBankQuestionSource(db), presence, broker, services.LogNotifier{})
	reconciler := services.NewReconciler(challengeStore, statsStore, broker, 0)

	challengeHandler := NewChallengeHandler(challengeService, reconciler)
	presenceHandler := NewPresenceHandler(presence)
	statsHandler := NewStatsHandler(statsStore)

	app := fiber.New(fiber.Config{})
	app.Use(recover.New())

	api := app.Group("/api")
	api.Post("/auth/guest", GuestLogin)

	challengeGroup := api.Group("/challenges")
	challengeGroup.Use(middleware.AuthMiddleware)
	challengeGroup.Post("/direct", challengeHandler.CreateDirect)
	challengeGroup.Post("/link", challengeHandler.CreateLink)
	challengeGroup.Get("/pending", challengeHandler.ListPending)
	challengeGroup.Get("/code/:code", challengeHandler.GetByCode)
	challengeGroup.Post("/code/:code/accept", challengeHandler.AcceptByCode)
	challengeGroup.Get("/:id", challengeHandler.Get)
	challengeGroup.Post("/:id/accept", challengeHandler.Accept)
	challengeGroup.Post("/:id/cancel", challengeHandler.Cancel)
	challengeGroup.Get("/:id/result", challengeHandler.Result)

	api.Get("/presence", middleware.AuthMiddleware, presenceHandler.List)
	api.Post("/presence/heartbeat", middleware.AuthMiddleware, presenceHandler.Heartbeat)
	api.Get("/stats/me", middleware.AuthMiddleware, statsHandler.Me)

	return &testEnv{app: app, db: db, presence: presence, broker: broker}
}

func seedQuestions(t *testing.T, db *gorm.DB, subject string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		row := models.BankQuestion{
			Subject:       subject,
			Difficulty:    "medium",
			Prompt:        "prompt",
			CorrectOption: 0,
		}
		if err := row.SetOptions([]string{"a", "b", "c", "d"}); err != nil {
			t.Fatalf("failed encoding options: %v", err)
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("failed seeding question: %v", err)
		}
	}
}

func testToken(t *testing.T, userID, username string) string {
	t.Helper()
	token, err := middleware.IssueToken(userID, username)
	if err != nil {
		t.Fatalf("failed issuing token: %v", err)
	}
	return token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}
	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
