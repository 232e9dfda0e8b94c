package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertServer inserts or fully replaces the row for row.ID — one row per id,
// per spec §3's uniqueness invariant.
func (s *Store) UpsertServer(ctx context.Context, row ServerRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO servers (id, ip, port, created, lifesign, last_ping, private, plusonly, remote, origin, version, mode, players, max, name, prefer)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			ip = EXCLUDED.ip, port = EXCLUDED.port, lifesign = EXCLUDED.lifesign,
			last_ping = EXCLUDED.last_ping, private = EXCLUDED.private, plusonly = EXCLUDED.plusonly,
			remote = EXCLUDED.remote, origin = EXCLUDED.origin, version = EXCLUDED.version,
			mode = EXCLUDED.mode, players = EXCLUDED.players, max = EXCLUDED.max,
			name = EXCLUDED.name, prefer = EXCLUDED.prefer`,
		row.ID, row.IP, row.Port, row.Created, row.Lifesign, row.LastPing,
		row.Private, row.PlusOnly, row.Remote, row.Origin, row.Version, row.Mode,
		row.Players, row.Max, row.Name, row.Prefer,
	)
	if err != nil {
		return fmt.Errorf("upserting server %q: %w", row.ID, err)
	}
	return nil
}

// DeleteServer forgets a row by id.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting server %q: %w", id, err)
	}
	return nil
}

// GetServer fetches a single row, or (ServerRow{}, false, nil) if absent.
func (s *Store) GetServer(ctx context.Context, id string) (ServerRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := scanServer(s.pool.QueryRow(ctx, serverSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServerRow{}, false, nil
		}
		return ServerRow{}, false, fmt.Errorf("querying server %q: %w", id, err)
	}
	return row, true, nil
}

// ListServers returns every server row ordered as the ASCII/binary emitters
// require: prefer DESC, private ASC, (players=max) ASC, players DESC, created ASC.
func (s *Store) ListServers(ctx context.Context) ([]ServerRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, serverSelect+`
		ORDER BY prefer DESC, private ASC, (players = max) ASC, players DESC, created ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	var out []ServerRow
	for rows.Next() {
		row, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SweepExpiredRemote evicts remote rows whose lifesign is older than cutoff,
// per spec invariant 2 (testable property §8).
func (s *Store) SweepExpiredRemote(ctx context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `DELETE FROM servers WHERE remote = true AND lifesign < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired remote servers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByIP returns the number of local rows owned by ip (for MAXSERVERS enforcement).
func (s *Store) CountByIP(ctx context.Context, ip string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM servers WHERE ip = $1 AND remote = false`, ip).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting servers for %q: %w", ip, err)
	}
	return n, nil
}

// ExistsIPPort reports whether any row, local or remote, already exists for
// (ip, port).
func (s *Store) ExistsIPPort(ctx context.Context, ip string, port int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM servers WHERE ip = $1 AND port = $2`, ip, port).Scan(&n); err != nil {
		return false, fmt.Errorf("checking existing server %s:%d: %w", ip, port, err)
	}
	return n > 0, nil
}

const serverSelect = `SELECT id, ip, port, created, lifesign, last_ping, private, plusonly, remote, origin, version, mode, players, max, name, prefer FROM servers`

type scannable interface {
	Scan(dest ...any) error
}

func scanServer(r scannable) (ServerRow, error) {
	var row ServerRow
	err := r.Scan(
		&row.ID, &row.IP, &row.Port, &row.Created, &row.Lifesign, &row.LastPing,
		&row.Private, &row.PlusOnly, &row.Remote, &row.Origin, &row.Version, &row.Mode,
		&row.Players, &row.Max, &row.Name, &row.Prefer,
	)
	return row, err
}
