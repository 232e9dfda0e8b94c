package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SetSetting upserts a single item/value pair.
func (s *Store) SetSetting(ctx context.Context, item, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO settings (item, value) VALUES ($1,$2) ON CONFLICT (item) DO UPDATE SET value = EXCLUDED.value`,
		item, value,
	); err != nil {
		return fmt.Errorf("setting %q: %w", item, err)
	}
	return nil
}

// GetSetting fetches a setting value, or ("", false, nil) if absent.
func (s *Store) GetSetting(ctx context.Context, item string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE item = $1`, item).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("querying setting %q: %w", item, err)
	}
	return value, true, nil
}
