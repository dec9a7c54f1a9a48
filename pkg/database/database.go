package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Clients bundles the stores shared by the API and the worker. Either field
// may be nil when its backend is not configured.
type Clients struct {
	DB    *sqlx.DB
	Redis *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewClients(ctx context.Context, dbURL string, redisOpts RedisOptions) (*Clients, error) {
	clients := &Clients{}

	if dbURL != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		clients.DB = db
	} else {
		slog.Warn("DATABASE_URL not set; credit routes will report server_not_configured")
	}

	if redisOpts.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     redisOpts.Addr,
			Password: redisOpts.Password,
			DB:       redisOpts.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			clients.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		clients.Redis = redisClient
	} else {
		slog.Warn("REDIS_ADDR not set; job tracking is disabled")
	}

	return clients, nil
}

// Migrate applies the embedded schema migrations.
func (c *Clients) Migrate() error {
	if c.DB == nil {
		return errors.New("database not configured")
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(c.DB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("✅ Database schema is ready", "version", version, "dirty", dirty)
	return nil
}

func (c *Clients) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			slog.Error("Failed to close Redis", "error", err)
		}
	}
}
