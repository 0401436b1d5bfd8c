// README: Ride lifecycle service. Owns the exclusive-acceptance protocol and
// the state machine guards; storage and the distributed lock are injected.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wasla/internal/observability"
	"wasla/internal/types"
)

var (
	ErrNotFound          = errors.New("ride: request not found")
	ErrNotPending        = errors.New("ride: request is no longer pending")
	ErrAlreadyTaken      = errors.New("ride: request already taken by another driver")
	ErrDebtBlocked       = errors.New("ride: driver is blocked for unpaid debt")
	ErrDriverBusy        = errors.New("ride: driver already has an active ride")
	ErrInvalidState      = errors.New("ride: transition not allowed from current state")
	ErrNotAssignedDriver = errors.New("ride: caller is not the assigned driver")
	ErrBadRequest        = errors.New("ride: invalid request payload")
)

// ActiveRideError reports the request that blocks a new create.
type ActiveRideError struct {
	RideID int64
	Status Status
}

func (e *ActiveRideError) Error() string {
	return fmt.Sprintf("ride: rider already has an active request %d (%s)", e.RideID, e.Status)
}

type Store interface {
	CreateExclusive(ctx context.Context, r *Request) error
	Get(ctx context.Context, id int64) (*Request, error)
	Accept(ctx context.Context, rideID, driverID int64) (*Request, error)
	Transition(ctx context.Context, rideID int64, from, to Status) (bool, error)
	FindActiveByRider(ctx context.Context, riderID int64) (*Request, error)
	ListByRider(ctx context.Context, riderID int64, status *Status, limit, offset int) ([]*Request, int, error)
	ListByDriver(ctx context.Context, driverID int64, status *Status, limit, offset int) ([]*Request, int, error)
}

// Locker is the short-lived acceptance lock. The lock is deliberately kept
// after a successful accept; its expiry doubles as a cool-down window.
type Locker interface {
	Acquire(ctx context.Context, rideID, ownerID int64) (bool, error)
	Release(ctx context.Context, rideID, ownerID int64) (bool, error)
}

type FareEstimator interface {
	EstimateFare(ctx context.Context, distanceKm, durationMin *float64) *types.Money
}

type DriverGate interface {
	IsDriverBlocked(ctx context.Context, driverID int64) (bool, error)
}

type BusyMarker interface {
	BusyRide(ctx context.Context, driverID int64) (int64, bool, error)
	MarkBusy(ctx context.Context, driverID, rideID int64) error
	ClearBusy(ctx context.Context, driverID int64) error
}

type Service struct {
	store Store
	lock  Locker
	fares FareEstimator
	gate  DriverGate
	busy  BusyMarker
	log   *slog.Logger
}

func NewService(store Store, lock Locker, fares FareEstimator, gate DriverGate, busy BusyMarker, log *slog.Logger) *Service {
	return &Service{store: store, lock: lock, fares: fares, gate: gate, busy: busy, log: log}
}

type CreateCommand struct {
	RiderID        int64
	Pickup         types.Point
	Dropoff        types.Point
	PickupAddress  *string
	DropoffAddress *string
	DistanceKm     *float64
	DurationMin    *float64
}

func validPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Create estimates the fare and inserts a pending request, enforcing one
// active request per rider inside the store transaction.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Request, error) {
	if !validPoint(cmd.Pickup) || !validPoint(cmd.Dropoff) {
		return nil, ErrBadRequest
	}

	r := &Request{
		RiderID:        cmd.RiderID,
		Pickup:         cmd.Pickup,
		Dropoff:        cmd.Dropoff,
		PickupAddress:  cmd.PickupAddress,
		DropoffAddress: cmd.DropoffAddress,
		DistanceKm:     cmd.DistanceKm,
		DurationMin:    cmd.DurationMin,
		EstimatedFare:  s.fares.EstimateFare(ctx, cmd.DistanceKm, cmd.DurationMin),
	}
	if err := s.store.CreateExclusive(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("ride created", "ride_id", r.ID, "rider_id", r.RiderID)
	return r, nil
}

// Accept runs the exclusive-acceptance protocol: debt gate, busy gate,
// distributed lock, then the transactional row update. The lock is released
// only when the database step fails; a winner keeps it until expiry.
func (s *Service) Accept(ctx context.Context, rideID, driverID int64) (*Request, error) {
	blocked, err := s.gate.IsDriverBlocked(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if blocked {
		observability.AcceptsLost.WithLabelValues("debt_blocked").Inc()
		return nil, ErrDebtBlocked
	}

	if busyRide, busy, err := s.busy.BusyRide(ctx, driverID); err != nil {
		return nil, err
	} else if busy && busyRide != rideID {
		observability.AcceptsLost.WithLabelValues("busy").Inc()
		return nil, ErrDriverBusy
	}

	won, err := s.lock.Acquire(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	if !won {
		observability.AcceptsLost.WithLabelValues("lock_contention").Inc()
		return nil, ErrAlreadyTaken
	}

	r, err := s.store.Accept(ctx, rideID, driverID)
	if err != nil {
		if _, relErr := s.lock.Release(ctx, rideID, driverID); relErr != nil {
			s.log.Warn("accept lock release failed", "ride_id", rideID, "error", relErr)
		}
		if errors.Is(err, ErrNotPending) {
			observability.AcceptsLost.WithLabelValues("not_pending").Inc()
		}
		return nil, err
	}

	if err := s.busy.MarkBusy(ctx, driverID, rideID); err != nil {
		s.log.Warn("busy marker write failed", "ride_id", rideID, "driver_id", driverID, "error", err)
	}
	observability.AcceptsWon.Inc()
	s.log.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)
	return r, nil
}

// Arrive, Start and Complete advance the lifecycle; only the assigned driver
// may move the ride forward.
func (s *Service) Arrive(ctx context.Context, rideID, driverID int64) (*Request, error) {
	return s.advance(ctx, rideID, driverID, StatusAccepted, StatusArrived)
}

func (s *Service) Start(ctx context.Context, rideID, driverID int64) (*Request, error) {
	return s.advance(ctx, rideID, driverID, StatusArrived, StatusStarted)
}

func (s *Service) Complete(ctx context.Context, rideID, driverID int64) (*Request, error) {
	r, err := s.advance(ctx, rideID, driverID, StatusStarted, StatusCompleted)
	if err != nil {
		return nil, err
	}
	if err := s.busy.ClearBusy(ctx, driverID); err != nil {
		s.log.Warn("busy marker clear failed", "driver_id", driverID, "error", err)
	}
	return r, nil
}

func (s *Service) advance(ctx context.Context, rideID, driverID int64, from, to Status) (*Request, error) {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID == nil || *r.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}
	if r.Status != from {
		return nil, ErrInvalidState
	}
	ok, err := s.store.Transition(ctx, rideID, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	r.Status = to
	s.log.Info("ride advanced", "ride_id", rideID, "status", to)
	return r, nil
}

// Cancel moves any non-terminal ride to cancelled. Both the rider and the
// assigned driver may cancel; callerID 0 means a system cancel.
func (s *Service) Cancel(ctx context.Context, rideID, callerID int64) (*Request, error) {
	r, err := s.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, ErrInvalidState
	}
	if callerID != 0 && callerID != r.RiderID && (r.DriverID == nil || *r.DriverID != callerID) {
		return nil, ErrNotAssignedDriver
	}
	ok, err := s.store.Transition(ctx, rideID, r.Status, StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	if r.DriverID != nil {
		if err := s.busy.ClearBusy(ctx, *r.DriverID); err != nil {
			s.log.Warn("busy marker clear failed", "driver_id", *r.DriverID, "error", err)
		}
	}
	r.Status = StatusCancelled
	s.log.Info("ride cancelled", "ride_id", rideID, "caller_id", callerID)
	return r, nil
}

func (s *Service) Get(ctx context.Context, rideID int64) (*Request, error) {
	return s.store.Get(ctx, rideID)
}

func (s *Service) ActiveForRider(ctx context.Context, riderID int64) (*Request, error) {
	return s.store.FindActiveByRider(ctx, riderID)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) ListForRider(ctx context.Context, riderID int64, status *Status, limit, offset int) ([]*Request, int, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListByRider(ctx, riderID, status, limit, offset)
}

func (s *Service) ListForDriver(ctx context.Context, driverID int64, status *Status, limit, offset int) ([]*Request, int, error) {
	limit, offset = clampPage(limit, offset)
	return s.store.ListByDriver(ctx, driverID, status, limit, offset)
}
