// handlers/challenges.go - Challenge lifecycle REST endpoints
package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"quizdash/middleware"
	"quizdash/models"
	"quizdash/services"
)

// ChallengeHandler exposes the challenge lifecycle over HTTP. The WebSocket
// gateway covers the live battle; everything before and after a battle goes
// through here.
type ChallengeHandler struct {
	challenges *services.ChallengeService
	reconciler *services.Reconciler
}

func NewChallengeHandler(challenges *services.ChallengeService, reconciler *services.Reconciler) *ChallengeHandler {
	return &ChallengeHandler{challenges: challenges, reconciler: reconciler}
}

// challengeView is the outward shape of a challenge record. The question set
// never leaves the server through this surface; clients receive questions
// only once their battle starts.
type challengeView struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	HostID           string     `json:"host_id"`
	HostName         string     `json:"host_name"`
	OpponentID       *string    `json:"opponent_id"`
	OpponentName     string     `json:"opponent_name,omitempty"`
	ShareCode        *string    `json:"share_code,omitempty"`
	Subject          string     `json:"subject"`
	Difficulty       string     `json:"difficulty"`
	DurationSeconds  int        `json:"duration_seconds"`
	QuestionCount    int        `json:"question_count"`
	Status           string     `json:"status"`
	HostScore        int        `json:"host_score"`
	OpponentScore    int        `json:"opponent_score"`
	HostFinished     bool       `json:"host_finished"`
	OpponentFinished bool       `json:"opponent_finished"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func viewOf(ch *models.Challenge) challengeView {
	questions, _ := ch.GetQuestions()
	return challengeView{
		ID:               ch.ID,
		Kind:             string(ch.Kind),
		HostID:           ch.HostID,
		HostName:         ch.HostName,
		OpponentID:       ch.OpponentID,
		OpponentName:     ch.OpponentName,
		ShareCode:        ch.ShareCode,
		Subject:          ch.Subject,
		Difficulty:       ch.Difficulty,
		DurationSeconds:  ch.DurationSeconds,
		QuestionCount:    len(questions),
		Status:           string(ch.Status),
		HostScore:        ch.HostScore,
		OpponentScore:    ch.OpponentScore,
		HostFinished:     ch.HostFinished,
		OpponentFinished: ch.OpponentFinished,
		CreatedAt:        ch.CreatedAt,
		ExpiresAt:        ch.ExpiresAt,
		StartedAt:        ch.StartedAt,
		CompletedAt:      ch.CompletedAt,
	}
}

type createDirectRequest struct {
	OpponentID   string `json:"opponent_id"`
	OpponentName string `json:"opponent_name"`
	services.ChallengeParams
}

// CreateDirect handles POST /api/challenges/direct
func (h *ChallengeHandler) CreateDirect(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}
	username, _ := middleware.GetUsername(c)

	var req createDirectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ch, err := h.challenges.CreateDirect(c.Context(), userID, username, req.OpponentID, req.OpponentName, req.ChallengeParams)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(viewOf(ch))
}

// CreateLink handles POST /api/challenges/link
func (h *ChallengeHandler) CreateLink(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}
	username, _ := middleware.GetUsername(c)

	var params services.ChallengeParams
	if err := c.BodyParser(&params); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ch, err := h.challenges.CreateLink(c.Context(), userID, username, params)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(201).JSON(viewOf(ch))
}

// ListPending handles GET /api/challenges/pending
func (h *ChallengeHandler) ListPending(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	list, err := h.challenges.ListPending(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	views := make([]challengeView, 0, len(list))
	for i := range list {
		views = append(views, viewOf(&list[i]))
	}
	return c.JSON(fiber.Map{"challenges": views})
}

// Get handles GET /api/challenges/:id
func (h *ChallengeHandler) Get(c *fiber.Ctx) error {
	ch, err := h.challenges.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(viewOf(ch))
}

// GetByCode handles GET /api/challenges/code/:code
func (h *ChallengeHandler) GetByCode(c *fiber.Ctx) error {
	ch, err := h.challenges.GetByCode(c.Context(), c.Params("code"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(viewOf(ch))
}

// Accept handles POST /api/challenges/:id/accept
func (h *ChallengeHandler) Accept(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}
	username, _ := middleware.GetUsername(c)

	ch, err := h.challenges.AcceptByID(c.Context(), c.Params("id"), userID, username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(viewOf(ch))
}

// AcceptByCode handles POST /api/challenges/code/:code/accept
func (h *ChallengeHandler) AcceptByCode(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}
	username, _ := middleware.GetUsername(c)

	ch, err := h.challenges.AcceptByCode(c.Context(), c.Params("code"), userID, username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(viewOf(ch))
}

// Cancel handles POST /api/challenges/:id/cancel
func (h *ChallengeHandler) Cancel(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	if err := h.challenges.Cancel(c.Context(), c.Params("id"), userID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Result handles GET /api/challenges/:id/result
func (h *ChallengeHandler) Result(c *fiber.Ctx) error {
	outcome, err := h.reconciler.Result(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(outcome)
}
