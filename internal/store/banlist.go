package store

import (
	"context"
	"fmt"
)

// AddBanlistEntry inserts row if the full tuple isn't already present —
// idempotent add-banlist per spec invariant 5 (testable property §8).
func (s *Store) AddBanlistEntry(ctx context.Context, row BanlistRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO banlist (address, type, note, origin, reserved)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (address, type, note, origin, reserved) DO NOTHING`,
		row.Address, row.Type, row.Note, row.Origin, row.Reserved,
	)
	if err != nil {
		return false, fmt.Errorf("adding banlist entry %+v: %w", row, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteBanlistEntry deletes by the full tuple (the logical key).
func (s *Store) DeleteBanlistEntry(ctx context.Context, row BanlistRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.Exec(ctx, `
		DELETE FROM banlist WHERE address=$1 AND type=$2 AND note=$3 AND origin=$4 AND reserved=$5`,
		row.Address, row.Type, row.Note, row.Origin, row.Reserved,
	); err != nil {
		return fmt.Errorf("deleting banlist entry %+v: %w", row, err)
	}
	return nil
}

// ListBanlist returns every banlist row, optionally filtered by type ("" = all).
func (s *Store) ListBanlist(ctx context.Context, typ string) ([]BanlistRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT address, type, note, origin, reserved FROM banlist`
	args := []any{}
	if typ != "" {
		query += ` WHERE type = $1`
		args = append(args, typ)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing banlist: %w", err)
	}
	defer rows.Close()

	var out []BanlistRow
	for rows.Next() {
		var row BanlistRow
		if err := rows.Scan(&row.Address, &row.Type, &row.Note, &row.Origin, &row.Reserved); err != nil {
			return nil, fmt.Errorf("scanning banlist row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
