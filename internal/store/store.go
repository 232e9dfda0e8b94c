// Package store implements the daemon's single serialized persistence layer
// (component A): servers, banlist, mirrors and settings tables, all mutations
// funneled through one process-wide critical section so concurrent handlers
// cannot interleave statements, per spec §4.1 and §5.
package store

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool with a single mutation lock.
type Store struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
}

// New connects to PostgreSQL and returns a Store handle.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// FromPool wraps an already-connected pool (tests construct theirs via a
// testcontainer fixture, per internal/testutil/db.go).
func FromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for goose migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Bootstrap truncates the servers table (no state outlives a restart),
// truncates foreign (non-self-origin) banlist entries, seeds the master
// mirror peer on first boot, and records this run's start time as a
// "started" setting so a restarted daemon's Stats emitter always has a
// durable uptime baseline, per spec §4.1 (start time seeding recovered from
// the original implementation's boot sequence).
func (s *Store) Bootstrap(ctx context.Context, selfOrigin, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, `TRUNCATE servers`); err != nil {
		return fmt.Errorf("truncating servers: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM banlist WHERE origin <> $1`, selfOrigin); err != nil {
		return fmt.Errorf("truncating foreign banlist entries: %w", err)
	}

	started := time.Now().Format(time.RFC3339)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO settings (item, value) VALUES ('started', $1) ON CONFLICT (item) DO UPDATE SET value = EXCLUDED.value`,
		started,
	); err != nil {
		return fmt.Errorf("recording start time: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO settings (item, value) VALUES ('version', $1) ON CONFLICT (item) DO UPDATE SET value = EXCLUDED.value`,
		version,
	); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM mirrors WHERE name = 'list.jj2.plus'`).Scan(&count); err != nil {
		return fmt.Errorf("checking master mirror: %w", err)
	}
	if count == 0 {
		if addrs, err := net.LookupHost("list.jj2.plus"); err == nil && len(addrs) > 0 && addrs[0] != selfOrigin {
			if _, err := s.pool.Exec(ctx,
				`INSERT INTO mirrors (name, address, lifesign) VALUES ($1, $2, 0) ON CONFLICT DO NOTHING`,
				"list.jj2.plus", addrs[0],
			); err != nil {
				return fmt.Errorf("seeding master mirror: %w", err)
			}
		}
	}
	return nil
}
