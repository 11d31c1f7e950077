// handlers/stats.go - Per-user aggregate endpoints
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"quizdash/apperrors"
	"quizdash/middleware"
	"quizdash/models"
	"quizdash/services"
)

type StatsHandler struct {
	stats services.StatsStore
}

func NewStatsHandler(stats services.StatsStore) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// Me handles GET /api/stats/me. A user with no settled battles yet reads as
// all zeros rather than 404.
func (h *StatsHandler) Me(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return err
	}

	stats, err := h.stats.GetStats(c.Context(), userID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			stats = &models.UserChallengeStats{UserID: userID}
		} else {
			return respondError(c, err)
		}
	}
	return c.JSON(stats)
}
