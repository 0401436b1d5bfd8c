// README: Commission/debt engine tests with in-memory fakes.
package debt

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"

	"wasla/internal/modules/settings"
	"wasla/internal/types"
)

type memStore struct {
	drivers map[int64]*Driver
	ledger  []*LedgerEntry
}

func newMemStore(drivers ...*Driver) *memStore {
	m := &memStore{drivers: make(map[int64]*Driver)}
	for _, d := range drivers {
		m.drivers[d.ID] = d
	}
	return m
}

func (m *memStore) Charge(_ context.Context, driverID int64, rideID *int64, amount int64, globalLimit *int64) (*ChargeResult, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	d.Debt += amount
	limit := globalLimit
	if d.DebtLimitOverride != nil {
		limit = d.DebtLimitOverride
	}
	if limit != nil && d.Debt >= *limit {
		d.Blocked = true
		reason := blockReasonDebt
		d.BlockReason = &reason
	}
	m.ledger = append(m.ledger, &LedgerEntry{
		DriverID: driverID, RideID: rideID, Amount: amount,
		EntryType: EntryCharge, BalanceAfter: d.Debt,
	})
	return &ChargeResult{DriverID: driverID, Amount: amount, NewDebt: d.Debt, Blocked: d.Blocked, Limit: limit}, nil
}

func (m *memStore) Pay(_ context.Context, driverID int64, amount int64, globalLimit *int64, adminID *int64) (*Driver, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	d.Debt -= amount
	if d.Debt < 0 {
		d.Debt = 0
	}
	limit := globalLimit
	if d.DebtLimitOverride != nil {
		limit = d.DebtLimitOverride
	}
	if d.Blocked && (limit == nil || d.Debt < *limit) {
		d.Blocked = false
		d.BlockReason = nil
	}
	m.ledger = append(m.ledger, &LedgerEntry{
		DriverID: driverID, Amount: amount, EntryType: EntryPayment, BalanceAfter: d.Debt, AdminID: adminID,
	})
	return d, nil
}

func (m *memStore) Reset(_ context.Context, driverID int64, _ *int64) (*Driver, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	d.Debt = 0
	d.Blocked = false
	d.BlockReason = nil
	return d, nil
}

func (m *memStore) SetLimitOverride(_ context.Context, driverID int64, limit *int64) error {
	d, ok := m.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	d.DebtLimitOverride = limit
	return nil
}

func (m *memStore) GetDriver(_ context.Context, driverID int64) (*Driver, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	return d, nil
}

func (m *memStore) IsDriverBlocked(_ context.Context, driverID int64) (bool, error) {
	d, ok := m.drivers[driverID]
	if !ok {
		return false, nil
	}
	return d.Blocked, nil
}

func (m *memStore) ListLedger(_ context.Context, driverID int64, limit, offset int) ([]*LedgerEntry, error) {
	var out []*LedgerEntry
	for _, e := range m.ledger {
		if e.DriverID == driverID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListDebtors(_ context.Context, limit, offset int) ([]*Driver, error) {
	var out []*Driver
	for _, d := range m.drivers {
		if d.Debt > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

type memSettings map[string]string

func (s memSettings) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

func (s memSettings) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	raw, ok, _ := s.Get(ctx, key)
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, nil
	}
	return f, true, nil
}

// failingSettings breaks the debt-limit read while leaving the rest intact.
type failingSettings struct {
	memSettings
}

func (s failingSettings) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	if key == settings.KeyDebtLimit {
		return 0, false, errors.New("settings store unavailable")
	}
	return s.memSettings.GetFloat(ctx, key)
}

type recordingEvictor struct {
	evicted []int64
}

func (e *recordingEvictor) Evict(_ context.Context, driverID int64) error {
	e.evicted = append(e.evicted, driverID)
	return nil
}

type fakeLive struct {
	online bool
	events []string
}

func (l *fakeLive) NotifyDriver(_ int64, event string, _ any) bool {
	if !l.online {
		return false
	}
	l.events = append(l.events, event)
	return true
}

type recordingPush struct {
	sent []int64
}

func (p *recordingPush) NotifyUser(_ context.Context, userID int64, _, _ string) error {
	p.sent = append(p.sent, userID)
	return nil
}

func fare(amount int64) *types.Money {
	m := types.IQD(amount)
	return &m
}

func i64(v int64) *int64 { return &v }

type debtFixture struct {
	svc     *Service
	store   *memStore
	evictor *recordingEvictor
	live    *fakeLive
	push    *recordingPush
}

func newDebtFixture(cfg memSettings, drivers ...*Driver) *debtFixture {
	f := &debtFixture{
		store:   newMemStore(drivers...),
		evictor: &recordingEvictor{},
		live:    &fakeLive{online: true},
		push:    &recordingPush{},
	}
	f.svc = NewService(f.store, cfg, f.evictor, f.live, f.push, slog.Default())
	return f
}

func TestChargeFixedCommission(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "fixed",
		settings.KeyCommissionValue: "500",
	}, &Driver{ID: 42})

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(10000))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Amount != 500 || res.NewDebt != 500 {
		t.Fatalf("res = %+v, want amount/newDebt 500", res)
	}
	if res.Blocked {
		t.Error("driver should not be blocked without a limit")
	}
}

func TestChargePercentCommission(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "percent",
		settings.KeyCommissionValue: "12.5",
	}, &Driver{ID: 42})

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(10000))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Amount != 1250 {
		t.Fatalf("amount = %d, want 1250", res.Amount)
	}
}

func TestChargePercentRoundsToWholeUnit(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "percent",
		settings.KeyCommissionValue: "10",
	}, &Driver{ID: 42})

	// 10% of 3333 = 333.3, rounds to 333
	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(3333))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Amount != 333 {
		t.Fatalf("amount = %d, want 333", res.Amount)
	}
}

func TestChargeNoopWithoutConfiguration(t *testing.T) {
	f := newDebtFixture(memSettings{}, &Driver{ID: 42})

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(10000))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Amount != 0 || res.NewDebt != 0 {
		t.Fatalf("expected no-op charge, got %+v", res)
	}
	if len(f.store.ledger) != 0 {
		t.Error("no ledger entry expected for a zero commission")
	}
}

func TestChargeNoopWithNonPositiveValue(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "fixed",
		settings.KeyCommissionValue: "-100",
	}, &Driver{ID: 42})

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(10000))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Amount != 0 {
		t.Fatalf("expected no charge, got %+v", res)
	}
}

func TestChargePercentWithoutFareChargesNothing(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "percent",
		settings.KeyCommissionValue: "10",
	}, &Driver{ID: 42})

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, nil)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if res.Amount != 0 {
		t.Fatalf("expected no charge without a fare, got %+v", res)
	}
}

func TestChargeBlocksAtLimitAndEvicts(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "fixed",
		settings.KeyCommissionValue: "600",
		settings.KeyDebtLimit:       "1000",
	}, &Driver{ID: 42, Debt: 400})

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(10000))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !res.Blocked {
		t.Fatal("driver crossing the limit must be blocked")
	}
	if len(f.evictor.evicted) != 1 || f.evictor.evicted[0] != 42 {
		t.Errorf("evicted = %v, want [42]", f.evictor.evicted)
	}
	if len(f.live.events) != 1 || f.live.events[0] != "driver:debt_blocked" {
		t.Errorf("live events = %v, want [driver:debt_blocked]", f.live.events)
	}
	if len(f.push.sent) != 0 {
		t.Error("push must not fire when the live session delivered")
	}
}

func TestChargeBlockFallsBackToPush(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "fixed",
		settings.KeyCommissionValue: "1000",
		settings.KeyDebtLimit:       "1000",
	}, &Driver{ID: 42})
	f.live.online = false

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(10000))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !res.Blocked {
		t.Fatal("expected block")
	}
	if len(f.push.sent) != 1 || f.push.sent[0] != 42 {
		t.Errorf("push sent = %v, want [42]", f.push.sent)
	}
}

func TestChargeFailsClosedOnLimitReadError(t *testing.T) {
	store := newMemStore(&Driver{ID: 42})
	cfg := failingSettings{memSettings{
		settings.KeyCommissionType:  "fixed",
		settings.KeyCommissionValue: "500",
		settings.KeyDebtLimit:       "1000",
	}}
	svc := NewService(store, cfg, &recordingEvictor{}, &fakeLive{}, &recordingPush{}, slog.Default())

	if _, err := svc.ChargeCommission(context.Background(), 42, 1, fare(10000)); err == nil {
		t.Fatal("charge must fail when the limit cannot be read")
	}
	if len(store.ledger) != 0 {
		t.Error("no ledger entry may be written when the limit read fails")
	}
	if store.drivers[42].Debt != 0 {
		t.Errorf("debt = %d, want untouched 0", store.drivers[42].Debt)
	}
}

func TestChargeOverrideBeatsGlobalLimit(t *testing.T) {
	f := newDebtFixture(memSettings{
		settings.KeyCommissionType:  "fixed",
		settings.KeyCommissionValue: "500",
		settings.KeyDebtLimit:       "10000",
	}, &Driver{ID: 42, DebtLimitOverride: i64(500)})

	res, err := f.svc.ChargeCommission(context.Background(), 42, 1, fare(10000))
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !res.Blocked {
		t.Fatal("per-driver override of 500 must block at 500 debt")
	}
}

func TestPayRejectsNonPositiveAmount(t *testing.T) {
	f := newDebtFixture(memSettings{}, &Driver{ID: 42, Debt: 1000})

	if _, err := f.svc.Pay(context.Background(), 42, 0, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if _, err := f.svc.Pay(context.Background(), 42, -5, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestPayUnblocksBelowLimit(t *testing.T) {
	reason := blockReasonDebt
	f := newDebtFixture(memSettings{
		settings.KeyDebtLimit: "1000",
	}, &Driver{ID: 42, Debt: 1200, Blocked: true, BlockReason: &reason})

	d, err := f.svc.Pay(context.Background(), 42, 500, nil)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if d.Debt != 700 {
		t.Fatalf("debt = %d, want 700", d.Debt)
	}
	if d.Blocked {
		t.Error("payment below the limit must lift the block")
	}
}

func TestPayFloorsAtZero(t *testing.T) {
	f := newDebtFixture(memSettings{}, &Driver{ID: 42, Debt: 300})

	d, err := f.svc.Pay(context.Background(), 42, 1000, nil)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if d.Debt != 0 {
		t.Fatalf("debt = %d, want 0", d.Debt)
	}
}

func TestPayNotifiesBalanceUpdate(t *testing.T) {
	f := newDebtFixture(memSettings{}, &Driver{ID: 42, Debt: 1000})

	if _, err := f.svc.Pay(context.Background(), 42, 500, nil); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if len(f.live.events) != 1 || f.live.events[0] != "driver:debt_updated" {
		t.Errorf("live events = %v, want [driver:debt_updated]", f.live.events)
	}
	if len(f.push.sent) != 0 {
		t.Error("push must not fire when the live session delivered")
	}

	f.live.online = false
	if _, err := f.svc.Pay(context.Background(), 42, 100, nil); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if len(f.push.sent) != 1 || f.push.sent[0] != 42 {
		t.Errorf("push sent = %v, want [42]", f.push.sent)
	}
}

func TestResetClearsDebtAndBlock(t *testing.T) {
	reason := blockReasonDebt
	f := newDebtFixture(memSettings{}, &Driver{ID: 42, Debt: 5000, Blocked: true, BlockReason: &reason})

	d, err := f.svc.Reset(context.Background(), 42, nil)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d.Debt != 0 || d.Blocked || d.BlockReason != nil {
		t.Fatalf("driver after reset = %+v", d)
	}
}
