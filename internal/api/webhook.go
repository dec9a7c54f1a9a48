package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
	"github.com/basilysf1709/file-renamer-ai/internal/payments"
)

func (s *Server) handleStripeWebhook(c *fiber.Ctx) error {
	if s.payments == nil {
		return respondError(c, fiber.StatusInternalServerError, codeNotConfigured, "DATABASE_URL not set")
	}

	res, err := s.payments.Handle(c.UserContext(), c.Body(), c.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		s.metrics.IncWebhookEvent("unknown", "rejected")
		s.logger.Warn("Rejected payment webhook", "request_id", requestID(c), "ip", c.IP(), "error", err)
		return respondError(c, fiber.StatusBadRequest, codeInvalidSignature, err.Error())
	case errors.Is(err, payments.ErrNotConfigured):
		return respondError(c, fiber.StatusInternalServerError, codeNotConfigured, err.Error())
	case err != nil:
		s.metrics.IncWebhookEvent(res.EventType, "failed")
		s.logger.Error("Payment webhook processing failed",
			"request_id", requestID(c),
			"event_id", res.EventID,
			"event_type", res.EventType,
			"error", err)
		return respondError(c, fiber.StatusInternalServerError, codeInternal, err.Error())
	}

	s.metrics.IncWebhookEvent(res.EventType, res.Outcome)
	return c.JSON(models.WebhookAck{Received: true})
}
