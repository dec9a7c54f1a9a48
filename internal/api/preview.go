package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/basilysf1709/file-renamer-ai/internal/upstream"
)

// handlePreview normalizes a single image and forwards it for a one-off
// name suggestion. Previews do not consume credits.
func (s *Server) handlePreview(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, codeInvalidForm, err.Error())
	}

	out := &upstream.Form{}
	if fhs := form.File["file"]; len(fhs) > 0 {
		file, err := s.readUpload(fhs[0])
		if err != nil {
			return respondError(c, fiber.StatusInternalServerError, codeInvalidForm, err.Error())
		}
		file.Field = "file"
		out.AddFile(file)
	}
	if prompt := form.Value["prompt"]; len(prompt) > 0 {
		out.AddField("prompt", prompt[0])
	}

	resp, err := s.upstream.Preview(c.UserContext(), out)
	if err != nil {
		s.logger.Error("Preview request failed", "request_id", requestID(c), "error", err)
		return respondError(c, fiber.StatusInternalServerError, codeUpstream, err.Error())
	}
	return relay(c, resp)
}
