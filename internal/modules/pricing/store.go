// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Latest returns the most recent pricing row; ok is false when none exists.
func (s *Store) Latest(ctx context.Context) (Setting, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, base_fare, price_per_km, price_per_minute, minimum_fare, created_at
		FROM pricing_settings
		ORDER BY created_at DESC
		LIMIT 1`)

	var st Setting
	err := row.Scan(&st.ID, &st.BaseFare, &st.PricePerKm, &st.PricePerMinute, &st.MinimumFare, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Setting{}, false, nil
	}
	if err != nil {
		return Setting{}, false, err
	}
	return st, true, nil
}
