// Package postgres implements the player store on PostgreSQL using pgx v5.
// All writes are single-statement upserts, so the dispatcher relies on row
// locking inside the database rather than any mutex of its own.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knielsen81/coinroll/internal/config"
)

// Pool owns the pgx connection pool shared by the repositories. One pool
// serves all sessions; the per-connection dispatch goroutines borrow
// connections per query.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to PostgreSQL using the database configuration and
// verifies the connection with a ping before returning.
//
// Precondition: cfg must contain valid connection parameters.
// Postcondition: Returns a Pool ready for queries, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Health pings the database within the given timeout. The server refuses to
// start accepting sessions when this fails, since every login needs the
// store.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close releases all pooled connections. In-flight queries are allowed to
// finish.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB exposes the underlying pgxpool.Pool to the repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
