// README: Ride request store backed by PostgreSQL (transactions + row locks).
package ride

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wasla/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const requestColumns = `
	id, rider_id, driver_id, status,
	pickup_lat, pickup_lng, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_address,
	distance_km, duration_min, estimated_fare,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var fare *int64
	err := row.Scan(
		&r.ID, &r.RiderID, &r.DriverID, &r.Status,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.PickupAddress,
		&r.Dropoff.Lat, &r.Dropoff.Lng, &r.DropoffAddress,
		&r.DistanceKm, &r.DurationMin, &fare,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if fare != nil {
		m := types.IQD(*fare)
		r.EstimatedFare = &m
	}
	return &r, nil
}

func fareAmount(m *types.Money) *int64 {
	if m == nil {
		return nil
	}
	return &m.Amount
}

// CreateExclusive inserts the request only if the rider holds no other
// request in a non-terminal state. The active-check and the insert share one
// transaction; a concurrent create by the same rider serializes on the row
// lock and observes the first insert.
func (s *PGStore) CreateExclusive(ctx context.Context, r *Request) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, status FROM ride_requests
		WHERE rider_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`,
		r.RiderID, statusStrings(ActiveStatuses))

	var activeID int64
	var activeStatus Status
	err = row.Scan(&activeID, &activeStatus)
	if err == nil {
		return &ActiveRideError{RideID: activeID, Status: activeStatus}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ride_requests (
			rider_id, status,
			pickup_lat, pickup_lng, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_address,
			distance_km, duration_min, estimated_fare
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		r.RiderID, string(StatusPending),
		r.Pickup.Lat, r.Pickup.Lng, r.PickupAddress,
		r.Dropoff.Lat, r.Dropoff.Lng, r.DropoffAddress,
		r.DistanceKm, r.DurationMin, fareAmount(r.EstimatedFare),
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return err
	}
	r.Status = StatusPending
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM ride_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Accept re-reads the row under a write-intent lock and assigns the driver
// only while the request is still pending. This is the transactional half of
// the exclusive-acceptance protocol; the distributed lock is the other half.
func (s *PGStore) Accept(ctx context.Context, rideID, driverID int64) (*Request, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	r, err := scanRequest(tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM ride_requests WHERE id = $1 FOR UPDATE`, rideID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Status != StatusPending {
		return nil, ErrNotPending
	}

	err = tx.QueryRow(ctx, `
		UPDATE ride_requests
		SET status = $1, driver_id = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`,
		string(StatusAccepted), driverID, rideID,
	).Scan(&r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.Status = StatusAccepted
	r.DriverID = &driverID
	return r, nil
}

// Transition performs a compare-and-swap status update; reports false when
// the row no longer holds the expected from status.
func (s *PGStore) Transition(ctx context.Context, rideID int64, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(to), rideID, string(from))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) FindActiveByRider(ctx context.Context, riderID int64) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE rider_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1`,
		riderID, statusStrings(ActiveStatuses)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PGStore) ListByRider(ctx context.Context, riderID int64, status *Status, limit, offset int) ([]*Request, int, error) {
	return s.list(ctx, "rider_id", riderID, status, limit, offset)
}

func (s *PGStore) ListByDriver(ctx context.Context, driverID int64, status *Status, limit, offset int) ([]*Request, int, error) {
	return s.list(ctx, "driver_id", driverID, status, limit, offset)
}

func (s *PGStore) list(ctx context.Context, column string, userID int64, status *Status, limit, offset int) ([]*Request, int, error) {
	filter := ` WHERE ` + column + ` = $1`
	args := []any{userID}
	if status != nil {
		filter += ` AND status = $2`
		args = append(args, string(*status))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ride_requests`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + requestColumns + ` FROM ride_requests` + filter +
		` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
