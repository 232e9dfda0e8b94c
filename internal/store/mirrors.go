package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ReservedMirrorName is forbidden for add-mirror (spec §3 Mirror, §4.8).
const ReservedMirrorName = "web"

// AddMirror inserts a mirror if the name or address doesn't already exist.
// Returns false (no error) if already present or if name is the reserved "web".
func (s *Store) AddMirror(ctx context.Context, row MirrorRow) (bool, error) {
	if row.Name == ReservedMirrorName {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM mirrors WHERE name = $1 OR address = $2`, row.Name, row.Address,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking existing mirror %q: %w", row.Name, err)
	}
	if exists > 0 {
		return false, nil
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO mirrors (name, address, lifesign) VALUES ($1,$2,$3)`,
		row.Name, row.Address, row.Lifesign,
	); err != nil {
		return false, fmt.Errorf("adding mirror %q: %w", row.Name, err)
	}
	return true, nil
}

// DeleteMirror removes a mirror by name+address.
func (s *Store) DeleteMirror(ctx context.Context, name, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, `DELETE FROM mirrors WHERE name = $1 AND address = $2`, name, address); err != nil {
		return fmt.Errorf("deleting mirror %q: %w", name, err)
	}
	return nil
}

// TouchMirrorLifesign updates lifesign for the mirror at address, if any.
func (s *Store) TouchMirrorLifesign(ctx context.Context, address string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, `UPDATE mirrors SET lifesign = $1 WHERE address = $2`, now, address); err != nil {
		return fmt.Errorf("touching mirror lifesign for %q: %w", address, err)
	}
	return nil
}

// ListMirrors returns every mirror row.
func (s *Store) ListMirrors(ctx context.Context) ([]MirrorRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `SELECT name, address, lifesign FROM mirrors`)
	if err != nil {
		return nil, fmt.Errorf("listing mirrors: %w", err)
	}
	defer rows.Close()

	var out []MirrorRow
	for rows.Next() {
		var row MirrorRow
		if err := rows.Scan(&row.Name, &row.Address, &row.Lifesign); err != nil {
			return nil, fmt.Errorf("scanning mirror row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetMirrorByAddress fetches a mirror by its address.
func (s *Store) GetMirrorByAddress(ctx context.Context, address string) (MirrorRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row MirrorRow
	err := s.pool.QueryRow(ctx, `SELECT name, address, lifesign FROM mirrors WHERE address = $1`, address).
		Scan(&row.Name, &row.Address, &row.Lifesign)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MirrorRow{}, false, nil
		}
		return MirrorRow{}, false, fmt.Errorf("querying mirror %q: %w", address, err)
	}
	return row, true, nil
}
