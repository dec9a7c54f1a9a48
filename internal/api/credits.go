package api

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/basilysf1709/file-renamer-ai/internal/auth"
	"github.com/basilysf1709/file-renamer-ai/internal/models"
)

func (s *Server) handleGetCredits(c *fiber.Ctx) error {
	id, _ := auth.FromCtx(c)

	profile, err := s.ledger.GetOrCreate(c.UserContext(), id.UserID, id.Email)
	if err != nil {
		s.logger.Error("Failed to load credits", "request_id", requestID(c), "user_id", id.UserID, "error", err)
		return respondError(c, fiber.StatusInternalServerError, codeInternal, err.Error())
	}

	return c.JSON(models.CreditsResponse{Credits: profile.Credits})
}

// debitAmount reads {amount} from body. A missing or unreadable body debits
// one credit. Numeric strings count as numbers; anything else that is not a
// number, and negative amounts, debit nothing. Fractions round up.
func debitAmount(body []byte) int {
	var req models.DebitRequest
	if len(body) == 0 || json.Unmarshal(body, &req) != nil {
		return 1
	}
	raw := bytes.TrimSpace(req.Amount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 1
	}

	var amount float64
	if err := json.Unmarshal(raw, &amount); err != nil {
		var text string
		if json.Unmarshal(raw, &text) != nil {
			return 0
		}
		amount, err = strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return 0
		}
	}
	if math.IsNaN(amount) || amount <= 0 {
		return 0
	}
	if amount > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(amount))
}

func (s *Server) handleDebitCredits(c *fiber.Ctx) error {
	id, _ := auth.FromCtx(c)
	amount := debitAmount(c.Body())

	credits, err := s.ledger.Debit(c.UserContext(), id.UserID, id.Email, amount)
	if err != nil {
		s.logger.Error("Failed to debit credits",
			"request_id", requestID(c),
			"user_id", id.UserID,
			"amount", amount,
			"error", err)
		return respondError(c, fiber.StatusInternalServerError, codeProfileUpdateFail, err.Error())
	}

	s.logger.Info("Debited credits", "user_id", id.UserID, "amount", amount, "credits", credits)
	return c.JSON(models.CreditsResponse{Credits: credits})
}
