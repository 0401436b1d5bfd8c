// README: Commission and debt engine. Charges a commission after each
// completed ride, blocks drivers that cross the debt limit and evicts them
// from the dispatch pool.
package debt

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"wasla/internal/modules/settings"
	"wasla/internal/observability"
	"wasla/internal/types"
)

const (
	CommissionFixed   = "fixed"
	CommissionPercent = "percent"
)

var ErrInvalidAmount = errors.New("debt: payment amount must be positive")

type Store interface {
	Charge(ctx context.Context, driverID int64, rideID *int64, amount int64, globalLimit *int64) (*ChargeResult, error)
	Pay(ctx context.Context, driverID int64, amount int64, globalLimit *int64, adminID *int64) (*Driver, error)
	Reset(ctx context.Context, driverID int64, adminID *int64) (*Driver, error)
	SetLimitOverride(ctx context.Context, driverID int64, limit *int64) error
	GetDriver(ctx context.Context, driverID int64) (*Driver, error)
	IsDriverBlocked(ctx context.Context, driverID int64) (bool, error)
	ListLedger(ctx context.Context, driverID int64, limit, offset int) ([]*LedgerEntry, error)
	ListDebtors(ctx context.Context, limit, offset int) ([]*Driver, error)
}

type SettingSource interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetFloat(ctx context.Context, key string) (float64, bool, error)
}

// Evictor tears down a blocked driver's dispatch presence.
type Evictor interface {
	Evict(ctx context.Context, driverID int64) error
}

// LiveNotifier delivers an event over an open dispatch session; reports
// false when the driver has no session.
type LiveNotifier interface {
	NotifyDriver(driverID int64, event string, payload any) bool
}

type PushSender interface {
	NotifyUser(ctx context.Context, userID int64, message, title string) error
}

type Service struct {
	store    Store
	settings SettingSource
	evictor  Evictor
	live     LiveNotifier
	push     PushSender
	log      *slog.Logger
}

func NewService(store Store, src SettingSource, evictor Evictor, live LiveNotifier, push PushSender, log *slog.Logger) *Service {
	return &Service{store: store, settings: src, evictor: evictor, live: live, push: push, log: log}
}

// globalLimit returns the configured limit, nil when none is set. A failed
// read is an error, not "no limit": charging without the limit would let a
// limit-crossing driver through unblocked.
func (s *Service) globalLimit(ctx context.Context) (*int64, error) {
	f, ok, err := s.settings.GetFloat(ctx, settings.KeyDebtLimit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	v := int64(math.Round(f))
	return &v, nil
}

// commissionAmount resolves the configured commission for a fare. A missing
// or non-positive configuration charges nothing.
func (s *Service) commissionAmount(ctx context.Context, fare *types.Money) int64 {
	value, ok, err := s.settings.GetFloat(ctx, settings.KeyCommissionValue)
	if err != nil {
		s.log.Warn("commission value lookup failed", "error", err)
		return 0
	}
	if !ok || value <= 0 {
		return 0
	}

	kind, _, err := s.settings.Get(ctx, settings.KeyCommissionType)
	if err != nil {
		s.log.Warn("commission type lookup failed", "error", err)
		return 0
	}
	switch strings.ToLower(kind) {
	case CommissionPercent:
		if fare == nil {
			return 0
		}
		return int64(math.Round(float64(fare.Amount) * value / 100))
	case CommissionFixed, "":
		return int64(math.Round(value))
	default:
		s.log.Warn("unknown commission type", "type", kind)
		return 0
	}
}

// ChargeCommission settles the platform's cut for a completed ride. A driver
// crossing the debt limit is blocked, evicted from the dispatch pool and
// told why, over the live session when one is open, by push otherwise.
func (s *Service) ChargeCommission(ctx context.Context, driverID, rideID int64, fare *types.Money) (*ChargeResult, error) {
	amount := s.commissionAmount(ctx, fare)
	if amount <= 0 {
		return &ChargeResult{DriverID: driverID}, nil
	}

	limit, err := s.globalLimit(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.store.Charge(ctx, driverID, &rideID, amount, limit)
	if err != nil {
		return nil, err
	}
	observability.CommissionsCharged.Inc()
	s.log.Info("commission charged",
		"driver_id", driverID, "ride_id", rideID, "amount", amount, "new_debt", res.NewDebt)

	if res.Blocked {
		s.blockDriver(ctx, res)
	}
	return res, nil
}

func (s *Service) blockDriver(ctx context.Context, res *ChargeResult) {
	observability.DriversDebtBlocked.Inc()
	s.log.Warn("driver blocked for debt",
		"driver_id", res.DriverID, "debt", res.NewDebt, "limit", res.Limit)

	if err := s.evictor.Evict(ctx, res.DriverID); err != nil {
		s.log.Warn("presence eviction failed", "driver_id", res.DriverID, "error", err)
	}

	payload := map[string]any{"debt": res.NewDebt, "limit": res.Limit}
	if s.live != nil && s.live.NotifyDriver(res.DriverID, "driver:debt_blocked", payload) {
		return
	}
	if s.push != nil {
		msg := "Your account is blocked until your outstanding balance is paid."
		if err := s.push.NotifyUser(ctx, res.DriverID, msg, "Account blocked"); err != nil {
			s.log.Warn("debt block push failed", "driver_id", res.DriverID, "error", err)
		}
	}
}

// Pay records an admin-entered payment and lifts the block when the balance
// drops back under the limit.
func (s *Service) Pay(ctx context.Context, driverID, amount int64, adminID *int64) (*Driver, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	limit, err := s.globalLimit(ctx)
	if err != nil {
		return nil, err
	}
	d, err := s.store.Pay(ctx, driverID, amount, limit, adminID)
	if err != nil {
		return nil, err
	}
	s.log.Info("debt payment recorded", "driver_id", driverID, "amount", amount, "new_debt", d.Debt)
	s.notifyBalance(ctx, d, "Payment received. Your outstanding balance was updated.")
	return d, nil
}

func (s *Service) Reset(ctx context.Context, driverID int64, adminID *int64) (*Driver, error) {
	d, err := s.store.Reset(ctx, driverID, adminID)
	if err != nil {
		return nil, err
	}
	s.log.Info("debt reset", "driver_id", driverID)
	s.notifyBalance(ctx, d, "Your outstanding balance was reset.")
	return d, nil
}

func (s *Service) notifyBalance(ctx context.Context, d *Driver, message string) {
	payload := map[string]any{"debt": d.Debt, "blocked": d.Blocked}
	if s.live != nil && s.live.NotifyDriver(d.ID, "driver:debt_updated", payload) {
		return
	}
	if s.push != nil {
		if err := s.push.NotifyUser(ctx, d.ID, message, "Balance update"); err != nil {
			s.log.Warn("balance push failed", "driver_id", d.ID, "error", err)
		}
	}
}

func (s *Service) SetLimitOverride(ctx context.Context, driverID int64, limit *int64) error {
	return s.store.SetLimitOverride(ctx, driverID, limit)
}

func (s *Service) GetDriver(ctx context.Context, driverID int64) (*Driver, error) {
	return s.store.GetDriver(ctx, driverID)
}

// IsDriverBlocked is the acceptance gate used by the ride service.
func (s *Service) IsDriverBlocked(ctx context.Context, driverID int64) (bool, error) {
	return s.store.IsDriverBlocked(ctx, driverID)
}

func (s *Service) ListLedger(ctx context.Context, driverID int64, limit, offset int) ([]*LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListLedger(ctx, driverID, limit, offset)
}

func (s *Service) ListDebtors(ctx context.Context, limit, offset int) ([]*Driver, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListDebtors(ctx, limit, offset)
}
