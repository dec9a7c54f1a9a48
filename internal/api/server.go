package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/basilysf1709/file-renamer-ai/internal/auth"
	"github.com/basilysf1709/file-renamer-ai/internal/config"
	"github.com/basilysf1709/file-renamer-ai/internal/imaging"
	"github.com/basilysf1709/file-renamer-ai/internal/jobs"
	"github.com/basilysf1709/file-renamer-ai/internal/ledger"
	"github.com/basilysf1709/file-renamer-ai/internal/metrics"
	"github.com/basilysf1709/file-renamer-ai/internal/payments"
	"github.com/basilysf1709/file-renamer-ai/internal/upstream"
	"github.com/basilysf1709/file-renamer-ai/pkg/database"
)

// Server is the HTTP gateway. Optional backends that are not configured
// stay nil and the routes depending on them answer server_not_configured.
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    metrics.Recorder
	ledger     *ledger.Ledger
	jobs       *jobs.Store
	dispatcher *jobs.Dispatcher
	upstream   *upstream.Client
	authn      fiber.Handler
	payments   *payments.Processor
	normalizer *imaging.Normalizer
}

func NewServer(cfg *config.Config, db *database.Clients, producer sarama.SyncProducer, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewPrometheus(registry)

	s := &Server{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		metrics:  rec,
		normalizer: imaging.NewNormalizer(cfg.Image.MinSide, cfg.Image.Tile, log, rec,
			imaging.WithMaxPixels(cfg.Image.MaxPixels)),
	}

	if db != nil && db.DB != nil {
		l, err := ledger.New(db.DB, cfg.Billing.StartingCredits)
		if err != nil {
			return nil, err
		}
		s.ledger = l
	}
	if db != nil && db.Redis != nil {
		s.jobs = jobs.NewStore(db.Redis, cfg.Redis.JobTTL)
	}
	if producer != nil {
		s.dispatcher = jobs.NewDispatcher(producer, cfg.Kafka.Topic)
	}

	up, err := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout,
		upstream.WithRecorder(rec),
		upstream.WithRateLimit(cfg.Upstream.RateLimit, cfg.Upstream.RateBurst))
	switch {
	case err == nil:
		s.upstream = up
	case errors.Is(err, upstream.ErrNotConfigured):
		log.Warn("RENAMER_API_BASE or JOB_PERSONAL_API_KEY not set; job routes will report server_not_configured")
	default:
		return nil, err
	}

	authn, err := auth.New(cfg.Supabase, log)
	if err != nil {
		log.Warn("No Supabase credentials; authenticated routes will report server_not_configured")
	}
	s.authn = authn

	if s.ledger != nil {
		s.payments = payments.NewProcessor(
			cfg.Stripe.WebhookSecret,
			cfg.Stripe.WebhookTolerance,
			payments.TiersFromConfig(cfg.Billing),
			s.ledger,
			payments.NewStripeCustomers(cfg.Stripe.SecretKey),
			log,
		)
	}

	s.app = fiber.New(fiber.Config{
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${locals:requestid} ${ip} ${method} ${path} ${status} ${latency}\n",
	}))

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := s.app.Group("/api")
	api.Post("/webhooks/stripe", s.handleStripeWebhook)

	limited := api.Group("", limiter.New(limiter.Config{
		Max:        s.cfg.Server.MaxRequests,
		Expiration: s.cfg.Server.RequestTimeout,
	}))
	limited.Get("/jobs/:id/progress", s.requireUpstream, s.handleJobProgress)
	limited.Get("/jobs/:id/results", s.requireUpstream, s.handleJobResults)
	limited.Post("/preview", s.requireUpstream, s.handlePreview)

	// Backend checks run before authentication.
	limited.Get("/credits", s.requireLedger, s.authn, s.handleGetCredits)
	limited.Post("/credits", s.requireLedger, s.authn, s.handleDebitCredits)
	limited.Post("/jobs/rename", s.requireUpstream, s.requireLedger, s.authn, s.handleSubmitRename)
	limited.Get("/jobs/:id", s.requireJobs, s.authn, s.handleGetJob)
}

func (s *Server) requireLedger(c *fiber.Ctx) error {
	if s.ledger == nil {
		return respondError(c, fiber.StatusInternalServerError, codeNotConfigured, "DATABASE_URL not set")
	}
	return c.Next()
}

func (s *Server) requireUpstream(c *fiber.Ctx) error {
	if s.upstream == nil {
		return respondError(c, fiber.StatusInternalServerError, codeNotConfigured, upstream.ErrNotConfigured.Error())
	}
	return c.Next()
}

func (s *Server) requireJobs(c *fiber.Ctx) error {
	if s.jobs == nil {
		return respondError(c, fiber.StatusInternalServerError, codeNotConfigured, "REDIS_ADDR not set")
	}
	return c.Next()
}

func (s *Server) Start() error {
	s.logger.Info("🚀 Server listening", "addr", s.cfg.Server.Port)
	return s.app.Listen(s.cfg.Server.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}
