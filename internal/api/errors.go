package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

// Error codes returned in the "error" field.
const (
	codeNotConfigured     = "server_not_configured"
	codeInsufficient      = "insufficient_credits"
	codeInvalidRequest    = "invalid_request"
	codeInvalidForm       = "invalid_form"
	codeUpstream          = "upstream_unreachable"
	codeInvalidSignature  = "invalid_signature"
	codeNotFound          = "not_found"
	codeInternal          = "internal_error"
	codeProfileUpdateFail = "profiles_update_failed"
)

func respondError(c *fiber.Ctx, status int, code, detail string) error {
	return c.Status(status).JSON(models.ErrorResponse{Error: code, Detail: detail})
}

// errorHandler renders errors that escape handlers, including fiber's own
// (404 for unknown routes, 413 for oversized bodies).
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := codeInternal

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		switch {
		case status == fiber.StatusNotFound:
			code = codeNotFound
		case status < 500:
			code = codeInvalidRequest
		}
	}

	if status >= 500 {
		s.logger.Error("Unhandled request error",
			"request_id", requestID(c),
			"method", c.Method(),
			"path", c.Path(),
			"error", err)
	}
	return respondError(c, status, code, err.Error())
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}
