// README: Debt ledger store. Every balance movement row-locks the driver so
// concurrent charges serialize and the ledger stays consistent with the
// balance column.
package debt

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDriverNotFound = errors.New("debt: driver not found")

const blockReasonDebt = "debt_limit_exceeded"

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) lockDriver(ctx context.Context, tx pgx.Tx, driverID int64) (*Driver, error) {
	var d Driver
	err := tx.QueryRow(ctx, `
		SELECT id, driver_debt, debt_limit_override, is_debt_blocked, block_reason
		FROM users
		WHERE id = $1 AND role = 'driver'
		FOR UPDATE`, driverID,
	).Scan(&d.ID, &d.Debt, &d.DebtLimitOverride, &d.Blocked, &d.BlockReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PGStore) appendEntry(ctx context.Context, tx pgx.Tx, e LedgerEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO driver_debt_ledger (driver_id, ride_id, amount, entry_type, balance_after, note, admin_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.DriverID, e.RideID, e.Amount, e.EntryType, e.BalanceAfter, e.Note, e.AdminID)
	return err
}

// Charge adds a commission to the driver's debt and blocks the driver when
// the new balance reaches the effective limit. The per-driver override wins
// over the global limit; with neither set the driver is never blocked.
func (s *PGStore) Charge(ctx context.Context, driverID int64, rideID *int64, amount int64, globalLimit *int64) (*ChargeResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDriver(ctx, tx, driverID)
	if err != nil {
		return nil, err
	}

	newDebt := d.Debt + amount
	limit := globalLimit
	if d.DebtLimitOverride != nil {
		limit = d.DebtLimitOverride
	}
	block := limit != nil && newDebt >= *limit

	if block {
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET driver_debt = $1, is_debt_blocked = TRUE, block_reason = $2, updated_at = NOW()
			WHERE id = $3`, newDebt, blockReasonDebt, driverID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE users SET driver_debt = $1, updated_at = NOW() WHERE id = $2`,
			newDebt, driverID)
	}
	if err != nil {
		return nil, err
	}
	entry := LedgerEntry{
		DriverID: driverID, RideID: rideID, Amount: amount,
		EntryType: EntryCharge, BalanceAfter: newDebt,
	}
	if err := s.appendEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ChargeResult{
		DriverID: driverID,
		Amount:   amount,
		NewDebt:  newDebt,
		Blocked:  block,
		Limit:    limit,
	}, nil
}

// Pay records a payment, floors the balance at zero and lifts a debt block
// once the balance drops below the effective limit.
func (s *PGStore) Pay(ctx context.Context, driverID int64, amount int64, globalLimit *int64, adminID *int64) (*Driver, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDriver(ctx, tx, driverID)
	if err != nil {
		return nil, err
	}

	newDebt := d.Debt - amount
	if newDebt < 0 {
		newDebt = 0
	}
	limit := globalLimit
	if d.DebtLimitOverride != nil {
		limit = d.DebtLimitOverride
	}
	unblock := d.Blocked && d.BlockReason != nil && *d.BlockReason == blockReasonDebt &&
		(limit == nil || newDebt < *limit)

	if unblock {
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET driver_debt = $1, is_debt_blocked = FALSE, block_reason = NULL, updated_at = NOW()
			WHERE id = $2`, newDebt, driverID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE users SET driver_debt = $1, updated_at = NOW() WHERE id = $2`,
			newDebt, driverID)
	}
	if err != nil {
		return nil, err
	}
	entry := LedgerEntry{
		DriverID: driverID, Amount: amount,
		EntryType: EntryPayment, BalanceAfter: newDebt, AdminID: adminID,
	}
	if err := s.appendEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	d.Debt = newDebt
	if unblock {
		d.Blocked = false
		d.BlockReason = nil
	}
	return d, nil
}

// Reset zeroes the balance and lifts any debt block, recording an adjustment
// entry for the audit trail.
func (s *PGStore) Reset(ctx context.Context, driverID int64, adminID *int64) (*Driver, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	d, err := s.lockDriver(ctx, tx, driverID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET driver_debt = 0, is_debt_blocked = FALSE, block_reason = NULL, updated_at = NOW()
		WHERE id = $1`, driverID)
	if err != nil {
		return nil, err
	}
	note := "balance reset"
	entry := LedgerEntry{
		DriverID: driverID, Amount: -d.Debt,
		EntryType: EntryAdjustment, BalanceAfter: 0, Note: &note, AdminID: adminID,
	}
	if err := s.appendEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	d.Debt = 0
	d.Blocked = false
	d.BlockReason = nil
	return d, nil
}

func (s *PGStore) SetLimitOverride(ctx context.Context, driverID int64, limit *int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET debt_limit_override = $1, updated_at = NOW()
		WHERE id = $2 AND role = 'driver'`, limit, driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDriverNotFound
	}
	return nil
}

func (s *PGStore) GetDriver(ctx context.Context, driverID int64) (*Driver, error) {
	var d Driver
	err := s.db.QueryRow(ctx, `
		SELECT id, driver_debt, debt_limit_override, is_debt_blocked, block_reason
		FROM users WHERE id = $1 AND role = 'driver'`, driverID,
	).Scan(&d.ID, &d.Debt, &d.DebtLimitOverride, &d.Blocked, &d.BlockReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// IsDriverBlocked covers both block flavors: the debt block this engine sets
// and an account-level admin block on the user row.
func (s *PGStore) IsDriverBlocked(ctx context.Context, driverID int64) (bool, error) {
	var blocked bool
	err := s.db.QueryRow(ctx,
		`SELECT is_debt_blocked OR status = 'blocked' FROM users WHERE id = $1`, driverID).Scan(&blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return blocked, err
}

func (s *PGStore) ListLedger(ctx context.Context, driverID int64, limit, offset int) ([]*LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, ride_id, amount, entry_type, balance_after, note, admin_id, created_at
		FROM driver_debt_ledger
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, driverID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.DriverID, &e.RideID, &e.Amount, &e.EntryType, &e.BalanceAfter, &e.Note, &e.AdminID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListDebtors returns drivers carrying a positive balance, largest first.
func (s *PGStore) ListDebtors(ctx context.Context, limit, offset int) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_debt, debt_limit_override, is_debt_blocked, block_reason
		FROM users
		WHERE role = 'driver' AND driver_debt > 0
		ORDER BY driver_debt DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		var d Driver
		if err := rows.Scan(&d.ID, &d.Debt, &d.DebtLimitOverride, &d.Blocked, &d.BlockReason); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
