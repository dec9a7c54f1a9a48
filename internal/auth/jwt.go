package auth

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"

	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

const tokenKey = "auth.jwt"

var errNoSubject = errors.New("token has no subject")
var errNoExpiry = errors.New("token has no expiry")

// Claims is the subset of a Supabase access token the gateway reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() (Identity, error) {
	if c.Subject == "" {
		return Identity{}, errNoSubject
	}
	if c.ExpiresAt == nil {
		return Identity{}, errNoExpiry
	}
	return Identity{UserID: c.Subject, Email: c.Email}, nil
}

// JWTMiddleware validates HS256 tokens signed with the project's JWT secret
// and stores the Identity for handlers.
func JWTMiddleware(secret string, logger *slog.Logger) fiber.Handler {
	reject := func(c *fiber.Ctx, err error) error {
		if BearerToken(c.Get(fiber.HeaderAuthorization)) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{Error: "missing_token"})
		}
		if err == nil {
			err = ErrInvalidToken
		}
		logger.Info("Rejected user token", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
			Error:  "invalid_token",
			Detail: err.Error(),
		})
	}

	return jwtware.New(jwtware.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    tokenKey,
		Claims:        &Claims{},
		ErrorHandler:  reject,
		SuccessHandler: func(c *fiber.Ctx) error {
			token, ok := c.Locals(tokenKey).(*jwt.Token)
			if !ok {
				return reject(c, ErrInvalidToken)
			}
			claims, ok := token.Claims.(*Claims)
			if !ok {
				return reject(c, ErrInvalidToken)
			}
			id, err := claims.identity()
			if err != nil {
				return reject(c, err)
			}
			c.Locals(identityKey, id)
			return c.Next()
		},
	})
}
