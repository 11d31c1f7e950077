// handlers/presence.go - Presence REST endpoints
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"quizdash/middleware"
	"quizdash/services"
)

type PresenceHandler struct {
	presence *services.PresenceDirectory
}

func NewPresenceHandler(presence *services.PresenceDirectory) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// List handles GET /api/presence — the current snapshot of reachable users,
// excluding the caller.
func (h *PresenceHandler) List(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	entries := h.presence.List()
	out := make([]services.PresenceEntry, 0, len(entries))
	for _, e := range entries {
		if e.UserID != userID {
			out = append(out, e)
		}
	}
	return c.JSON(fiber.Map{"users": out})
}

// Heartbeat handles POST /api/presence/heartbeat for clients without a live
// WebSocket connection.
func (h *PresenceHandler) Heartbeat(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}
	username, _ := middleware.GetUsername(c)

	h.presence.Heartbeat(userID, username)
	return c.JSON(fiber.Map{"success": true})
}
