package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"

	"github.com/basilysf1709/file-renamer-ai/internal/api"
	"github.com/basilysf1709/file-renamer-ai/internal/config"
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

	if db.DB != nil && cfg.Database.MigrateOnBoot {
		if err := db.Migrate(); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	var producer sarama.SyncProducer
	if cfg.Kafka.Broker != "" {
		producer, err = kafka.NewProducer(cfg.Kafka.Broker, cfg.Kafka.RetryMax, cfg.Kafka.RetryBackoff)
		if err != nil {
			logger.Error("Failed to create Kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		logger.Info("✅ Connected to Kafka")
	} else {
		logger.Warn("KAFKA_BROKER not set; submitted jobs are settled only by the worker sweep")
	}

	server, err := api.NewServer(cfg, db, producer, logger)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exited")
}
