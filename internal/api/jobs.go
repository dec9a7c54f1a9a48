package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/basilysf1709/file-renamer-ai/internal/auth"
	"github.com/basilysf1709/file-renamer-ai/internal/jobs"
	"github.com/basilysf1709/file-renamer-ai/internal/ledger"
	"github.com/basilysf1709/file-renamer-ai/internal/models"
	"github.com/basilysf1709/file-renamer-ai/internal/upstream"
)

// File field names accepted on submission. Files are always forwarded as
// "files".
var fileFields = []string{"files", "files[]"}

func relay(c *fiber.Ctx, resp upstream.Response) error {
	c.Set(fiber.HeaderContentType, resp.ContentType)
	return c.Status(resp.StatusCode).Send(resp.Body)
}

func (s *Server) handleSubmitRename(c *fiber.Ctx) error {
	id, _ := auth.FromCtx(c)
	logger := s.logger.With("request_id", requestID(c), "user_id", id.UserID)
	ctx := c.UserContext()

	form, err := c.MultipartForm()
	if err != nil {
		logger.Warn("Malformed rename form", "error", err)
		return respondError(c, fiber.StatusInternalServerError, codeInvalidForm, err.Error())
	}

	var headers []*multipart.FileHeader
	for _, field := range fileFields {
		headers = append(headers, form.File[field]...)
	}
	if len(headers) == 0 {
		return respondError(c, fiber.StatusBadRequest, codeInvalidRequest, "no files submitted")
	}

	hold, err := s.ledger.Reserve(ctx, id.UserID, id.Email, len(headers))
	if err != nil {
		var insufficient *ledger.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			s.metrics.IncCreditHold("rejected")
			logger.Info("Rejected submission for insufficient credits", "need", insufficient.Need, "has", insufficient.Has)
			return c.Status(fiber.StatusPaymentRequired).JSON(models.InsufficientCreditsResponse{
				Error: codeInsufficient,
				Need:  insufficient.Need,
				Has:   insufficient.Has,
			})
		}
		logger.Error("Failed to reserve credits", "error", err)
		return respondError(c, fiber.StatusInternalServerError, codeInternal, err.Error())
	}
	s.metrics.IncCreditHold("reserved")
	logger = logger.With("hold_id", hold.ID)

	out := &upstream.Form{}
	copyTextFields(form, out)
	for _, fh := range headers {
		file, err := s.readUpload(fh)
		if err != nil {
			s.releaseHold(ctx, hold.ID, "unreadable upload")
			logger.Warn("Failed to read uploaded file", "filename", fh.Filename, "error", err)
			return respondError(c, fiber.StatusInternalServerError, codeInvalidForm, err.Error())
		}
		file.Field = "files"
		out.AddFile(file)
	}

	resp, err := s.upstream.SubmitRename(ctx, out)
	if err != nil {
		s.releaseHold(ctx, hold.ID, "upstream unreachable")
		logger.Error("Rename submission failed", "error", err)
		return respondError(c, fiber.StatusInternalServerError, codeUpstream, err.Error())
	}
	if !resp.OK() {
		s.releaseHold(ctx, hold.ID, fmt.Sprintf("upstream status %d", resp.StatusCode))
		logger.Warn("Upstream rejected rename submission", "status", resp.StatusCode)
		return relay(c, resp)
	}

	submitted, err := upstream.ParseSubmit(resp.Body)
	if err != nil {
		s.releaseHold(ctx, hold.ID, "no job id")
		logger.Error("Upstream accepted submission without a job id", "error", err)
		return relay(c, resp)
	}

	s.trackJob(ctx, logger, models.JobSubmitted{
		JobID:       submitted.JobID,
		UserID:      id.UserID,
		FileCount:   len(headers),
		HoldID:      hold.ID,
		SubmittedAt: time.Now().UTC(),
	})
	return relay(c, resp)
}

// copyTextFields forwards every text field. The prompt is accepted as either
// "user_prompt" or "prompt" and always sent as "user_prompt".
func copyTextFields(form *multipart.Form, out *upstream.Form) {
	names := make([]string, 0, len(form.Value))
	for name := range form.Value {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range form.Value[name] {
			out.AddField(name, v)
		}
	}
	if _, ok := form.Value["user_prompt"]; !ok {
		if prompt, ok := form.Value["prompt"]; ok && len(prompt) > 0 {
			out.AddField("user_prompt", prompt[0])
		}
	}
}

func (s *Server) readUpload(fh *multipart.FileHeader) (upstream.File, error) {
	f, err := fh.Open()
	if err != nil {
		return upstream.File{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return upstream.File{}, err
	}

	contentType := fh.Header.Get(fiber.HeaderContentType)
	res := s.normalizer.Normalize(data, fh.Filename, contentType)
	return upstream.File{Name: fh.Filename, ContentType: contentType, Data: res.Data}, nil
}

// trackJob binds the hold to the job and hands the job to the settlement
// worker. Failures are logged; the worker's recovery sweep picks up bound
// holds whose event was lost.
func (s *Server) trackJob(ctx context.Context, logger *slog.Logger, evt models.JobSubmitted) {
	if err := s.ledger.BindJob(ctx, evt.HoldID, evt.JobID); err != nil {
		logger.Error("Failed to bind hold to job", "job_id", evt.JobID, "error", err)
	}

	if s.jobs != nil {
		if err := s.jobs.Create(ctx, models.JobRecord{
			JobID:     evt.JobID,
			UserID:    evt.UserID,
			FileCount: evt.FileCount,
			HoldID:    evt.HoldID,
			Total:     evt.FileCount,
		}); err != nil {
			logger.Error("Failed to record job", "job_id", evt.JobID, "error", err)
		}
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Publish(evt); err != nil {
			logger.Error("Failed to publish job event", "job_id", evt.JobID, "error", err)
		}
	}

	logger.Info("Rename job submitted", "job_id", evt.JobID, "file_count", evt.FileCount)
}

func (s *Server) releaseHold(ctx context.Context, holdID, reason string) {
	released, err := s.ledger.Release(ctx, holdID)
	if err != nil {
		s.logger.Error("Failed to release credit hold", "hold_id", holdID, "reason", reason, "error", err)
		return
	}
	if released {
		s.metrics.IncCreditHold("released")
		s.logger.Info("Released credit hold", "hold_id", holdID, "reason", reason)
	}
}

func (s *Server) handleGetJob(c *fiber.Ctx) error {
	id, _ := auth.FromCtx(c)

	rec, err := s.jobs.Get(c.UserContext(), c.Params("id"))
	if errors.Is(err, jobs.ErrJobNotFound) || (err == nil && rec.UserID != id.UserID) {
		return respondError(c, fiber.StatusNotFound, codeNotFound, "job not found")
	}
	if err != nil {
		s.logger.Error("Failed to load job", "request_id", requestID(c), "job_id", c.Params("id"), "error", err)
		return respondError(c, fiber.StatusInternalServerError, codeInternal, err.Error())
	}
	return c.JSON(rec)
}

func (s *Server) handleJobProgress(c *fiber.Ctx) error {
	return s.proxyJobQuery(c, s.upstream.ProgressRaw)
}

func (s *Server) handleJobResults(c *fiber.Ctx) error {
	return s.proxyJobQuery(c, s.upstream.ResultsRaw)
}

func (s *Server) proxyJobQuery(c *fiber.Ctx, query func(context.Context, string) (upstream.Response, error)) error {
	jobID := c.Params("id")

	resp, err := query(c.UserContext(), jobID)
	if err != nil {
		s.logger.Warn("Job query failed", "request_id", requestID(c), "job_id", jobID, "path", c.Path(), "error", err)
		return respondError(c, fiber.StatusInternalServerError, codeUpstream, err.Error())
	}
	return relay(c, resp)
}
