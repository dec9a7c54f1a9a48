// Package auth resolves the end user behind a bearer token.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/basilysf1709/file-renamer-ai/internal/config"
	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotConfigured = errors.New("no token verifier configured")
)

const identityKey = "auth.identity"

// Identity is the authenticated end user.
type Identity struct {
	UserID string
	Email  string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// New picks the middleware for cfg: local HS256 validation when a JWT secret
// is set, otherwise the Supabase auth server. With neither, the returned
// middleware answers server_not_configured and the error is ErrNotConfigured.
func New(cfg config.SupabaseConfig, logger *slog.Logger) (fiber.Handler, error) {
	switch {
	case cfg.JWTSecret != "":
		return JWTMiddleware(cfg.JWTSecret, logger), nil
	case cfg.URL != "" && cfg.ServiceKey != "":
		return Middleware(NewGoTrueVerifier(cfg.URL, cfg.ServiceKey), logger), nil
	default:
		return Middleware(nil, logger), ErrNotConfigured
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Middleware rejects requests whose token v does not accept and stores the
// Identity for handlers.
func Middleware(v Verifier, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if v == nil {
			return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
				Error:  "server_not_configured",
				Detail: ErrNotConfigured.Error(),
			})
		}

		token := BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{Error: "missing_token"})
		}

		id, err := v.Verify(c.UserContext(), token)
		if err != nil {
			logger.Info("Rejected user token", "path", c.Path(), "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error:  "invalid_token",
				Detail: err.Error(),
			})
		}

		c.Locals(identityKey, id)
		return c.Next()
	}
}

// FromCtx returns the Identity stored by Middleware.
func FromCtx(c *fiber.Ctx) (Identity, bool) {
	id, ok := c.Locals(identityKey).(Identity)
	return id, ok
}
