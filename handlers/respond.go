// handlers/respond.go - Shared error mapping for the REST surface
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"quizdash/apperrors"
)

// statusFor maps the service error taxonomy onto HTTP. Race-loss (CONFLICT)
// and too-late (EXPIRED/UNAVAILABLE) are distinct so clients can present
// "somebody beat you to it" differently from "this invite is gone".
func statusFor(code string) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return fiber.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return fiber.StatusNotFound
	case apperrors.ErrCodeConflict:
		return fiber.StatusConflict
	case apperrors.ErrCodeExpired, apperrors.ErrCodeUnavailable:
		return fiber.StatusGone
	case apperrors.ErrCodeForbidden:
		return fiber.StatusForbidden
	case apperrors.ErrCodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	code := apperrors.CodeOf(err)
	status := statusFor(code)

	message := err.Error()
	if status == fiber.StatusInternalServerError {
		// Internal details stay in the log.
		message = "internal server error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
