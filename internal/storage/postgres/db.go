package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/finkargo/tip-analytics/internal/config"
)

var ErrNoDatabaseURL = errors.New("postgres: database url not configured")

// DB stores tenant datasets and the upload log.
type DB struct {
	*sqlx.DB
}

// Connect opens the pool, retrying with a linear backoff while the database
// comes up.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	if cfg.URL == "" {
		return nil, ErrNoDatabaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := max(cfg.ConnectRetries, 1)

	var lastErr error
	for i := range attempts {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
		if err == nil {
			if cfg.MaxConnections > 0 {
				db.SetMaxOpenConns(cfg.MaxConnections)
			}
			if cfg.MaxIdleConns > 0 {
				db.SetMaxIdleConns(cfg.MaxIdleConns)
			}
			db.SetConnMaxLifetime(5 * time.Minute)
			return &DB{db}, nil
		}
		lastErr = err

		logger.Warn("Database not ready",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("postgres: connect: %w", lastErr)
}

func (db *DB) Healthcheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}
