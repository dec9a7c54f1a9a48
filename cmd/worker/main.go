package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/basilysf1709/file-renamer-ai/internal/config"
	"github.com/basilysf1709/file-renamer-ai/internal/jobs"
	"github.com/basilysf1709/file-renamer-ai/internal/metrics"
	"github.com/basilysf1709/file-renamer-ai/internal/upstream"
	"github.com/basilysf1709/file-renamer-ai/internal/worker"
	"github.com/basilysf1709/file-renamer-ai/pkg/database"
	"github.com/basilysf1709/file-renamer-ai/pkg/kafka"
	"github.com/basilysf1709/file-renamer-ai/pkg/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	format := cfg.Server.LogFormat
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(os.Stdout, cfg.Server.LogLevel, format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewClients(ctx, cfg.Database.URL, database.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Error("Failed to initialize database clients", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("✅ Connected to databases")

	rec := metrics.NewPrometheus(prometheus.DefaultRegisterer)
	source, err := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout,
		upstream.WithRecorder(rec),
		upstream.WithRateLimit(cfg.Upstream.RateLimit, cfg.Upstream.RateBurst))
	if err != nil {
		logger.Error("Worker needs the upstream job API", "error", err)
		os.Exit(1)
	}

	var consumer sarama.ConsumerGroup
	if cfg.Kafka.Broker != "" {
		consumer, err = kafka.NewConsumer(cfg.Kafka.Broker, cfg.Kafka.Group)
		if err != nil {
			logger.Error("Failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		logger.Info("✅ Connected to Kafka")
	} else {
		logger.Warn("KAFKA_BROKER not set; running recovery sweep only")
	}

	if cfg.Poller.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.Poller.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics listener failed", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	w, err := worker.NewWorker(cfg, db, consumer, source,
		worker.WithLogger(logger),
		worker.WithRecorder(rec),
		worker.WithNotifier(jobs.NewNotifier(cfg.Poller.NotifyURL)),
	)
	if err != nil {
		logger.Error("Failed to create worker", "error", err)
		os.Exit(1)
	}

	if err := w.Start(ctx); err != nil {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
}
