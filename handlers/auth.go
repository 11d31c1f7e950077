// handlers/auth.go - Guest identity issuance
package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"quizdash/logger"
	"quizdash/middleware"
)

type guestLoginRequest struct {
	Username string `json:"username"`
}

// GuestLogin handles POST /api/auth/guest. Players get a signed identity
// without registration; the id is minted here and stays stable for the
// token's lifetime.
func GuestLogin(c *fiber.Ctx) error {
	var req guestLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Username is required"})
	}
	if len(username) > 50 {
		return c.Status(400).JSON(fiber.Map{"error": "Username too long"})
	}

	userID := "guest-" + uuid.NewString()
	token, err := middleware.IssueToken(userID, username)
	if err != nil {
		logger.Error("failed to sign guest token", "error", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create session"})
	}

	logger.Info("guest session created", "user_id", userID, "username", username)
	return c.JSON(fiber.Map{
		"token":    token,
		"user_id":  userID,
		"username": username,
	})
}
