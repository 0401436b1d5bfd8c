// README: System settings key/value store (commission and debt limit knobs).
package settings

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Keys read by the commission/debt engine. Written by admin tooling.
const (
	KeyCommissionType  = "DRIVER_COMMISSION_TYPE"
	KeyCommissionValue = "DRIVER_COMMISSION_VALUE"
	KeyDebtLimit       = "DRIVER_DEBT_LIMIT"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Get returns the raw value for a key; ok is false when the key is unset.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key)
	var value *string
	err := row.Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	return err
}

// GetFloat parses a numeric setting; ok is false when unset or unparsable.
func (s *Store) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	f, perr := strconv.ParseFloat(raw, 64)
	if perr != nil {
		return 0, false, nil
	}
	return f, true, nil
}
