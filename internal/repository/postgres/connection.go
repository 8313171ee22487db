package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolSettings параметры пула соединений PostgreSQL
type PoolSettings struct {
	MaxConns int32
	MinConns int32
}

// NewConnection создает пул соединений PostgreSQL с заданными размерами
func NewConnection(ctx context.Context, connString string, settings PoolSettings, log *logger.Logger) (*pgxpool.Pool, error) {
	log.Info("Connecting to PostgreSQL")

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	if settings.MaxConns > 0 {
		poolConfig.MaxConns = settings.MaxConns
	}
	if settings.MinConns > 0 {
		poolConfig.MinConns = settings.MinConns
	}
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Infow("Connected to PostgreSQL", "maxConns", poolConfig.MaxConns, "minConns", poolConfig.MinConns)
	return pool, nil
}
