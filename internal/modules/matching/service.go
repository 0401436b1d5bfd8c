// README: Matching engine. Finds nearby dispatchable drivers for a pending
// ride and offers it to them over their live sessions. Offering is best
// effort; the persisted request is never affected by delivery failures.
package matching

import (
	"context"
	"log/slog"

	"wasla/internal/config"
	"wasla/internal/modules/presence"
	"wasla/internal/modules/ride"
	"wasla/internal/observability"
	"wasla/internal/types"
)

// Pool is the presence surface the matcher reads and annotates.
type Pool interface {
	NearbyDrivers(ctx context.Context, p types.Point, radiusMeters float64, count int) ([]int64, error)
	IsOnline(ctx context.Context, driverID int64) (bool, error)
	BusyRide(ctx context.Context, driverID int64) (int64, bool, error)
	IsRejected(ctx context.Context, rideID, driverID int64) (bool, error)
	AddOffered(ctx context.Context, rideID int64, driverIDs ...int64) error
	OfferedDrivers(ctx context.Context, rideID int64) ([]int64, error)
	Location(ctx context.Context, driverID int64) (presence.Location, bool, error)
	ClearBookkeeping(ctx context.Context, rideID int64) error
}

type LiveNotifier interface {
	NotifyDriver(driverID int64, event string, payload any) bool
}

type Service struct {
	pool Pool
	live LiveNotifier
	cfg  config.MatchingConfig
	log  *slog.Logger
}

func NewService(pool Pool, live LiveNotifier, cfg config.MatchingConfig, log *slog.Logger) *Service {
	return &Service{pool: pool, live: live, cfg: cfg, log: log}
}

// offerPayload is what a driver's app renders when a request comes in.
type offerPayload struct {
	RideID         int64        `json:"ride_id"`
	Pickup         types.Point  `json:"pickup"`
	Dropoff        types.Point  `json:"dropoff"`
	PickupAddress  *string      `json:"pickup_address,omitempty"`
	DropoffAddress *string      `json:"dropoff_address,omitempty"`
	DistanceKm     *float64     `json:"distance_km,omitempty"`
	EstimatedFare  *types.Money `json:"estimated_fare,omitempty"`
}

// Dispatch offers a pending ride to candidate drivers near the pickup point:
// closest first, skipping anyone offline, busy, or already on the ride's
// rejection list. Returns how many drivers were offered the ride.
func (s *Service) Dispatch(ctx context.Context, r *ride.Request) (int, error) {
	candidates, err := s.pool.NearbyDrivers(ctx, r.Pickup, s.cfg.RadiusMeters, s.cfg.MaxDrivers)
	if err != nil {
		return 0, err
	}

	payload := offerPayload{
		RideID:         r.ID,
		Pickup:         r.Pickup,
		Dropoff:        r.Dropoff,
		PickupAddress:  r.PickupAddress,
		DropoffAddress: r.DropoffAddress,
		DistanceKm:     r.DistanceKm,
		EstimatedFare:  r.EstimatedFare,
	}

	var offered []int64
	for _, driverID := range candidates {
		ok, err := s.eligible(ctx, r.ID, driverID)
		if err != nil {
			s.log.Warn("candidate check failed", "ride_id", r.ID, "driver_id", driverID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		s.live.NotifyDriver(driverID, "request:new", payload)
		offered = append(offered, driverID)
	}

	if len(offered) > 0 {
		if err := s.pool.AddOffered(ctx, r.ID, offered...); err != nil {
			s.log.Warn("offer bookkeeping failed", "ride_id", r.ID, "error", err)
		}
		observability.OffersSent.Add(float64(len(offered)))
	}
	s.log.Info("ride dispatched",
		"ride_id", r.ID, "candidates", len(candidates), "offered", len(offered))
	return len(offered), nil
}

func (s *Service) eligible(ctx context.Context, rideID, driverID int64) (bool, error) {
	online, err := s.pool.IsOnline(ctx, driverID)
	if err != nil || !online {
		return false, err
	}
	if _, busy, err := s.pool.BusyRide(ctx, driverID); err != nil || busy {
		return false, err
	}
	rejected, err := s.pool.IsRejected(ctx, rideID, driverID)
	if err != nil || rejected {
		return false, err
	}
	return true, nil
}

// BroadcastCancelled tells every driver who saw the offer, plus the assigned
// driver if any, that the ride is gone, then drops the ride's bookkeeping.
func (s *Service) BroadcastCancelled(ctx context.Context, rideID int64, assignedDriver *int64) {
	payload := map[string]any{"ride_id": rideID, "status": string(ride.StatusCancelled)}
	offered, err := s.pool.OfferedDrivers(ctx, rideID)
	if err != nil {
		s.log.Warn("offered set read failed", "ride_id", rideID, "error", err)
	}
	notified := make(map[int64]bool, len(offered)+1)
	for _, driverID := range offered {
		if !notified[driverID] {
			s.live.NotifyDriver(driverID, "trip:status_changed", payload)
			notified[driverID] = true
		}
	}
	if assignedDriver != nil && !notified[*assignedDriver] {
		s.live.NotifyDriver(*assignedDriver, "trip:status_changed", payload)
	}
	if err := s.pool.ClearBookkeeping(ctx, rideID); err != nil {
		s.log.Warn("bookkeeping cleanup failed", "ride_id", rideID, "error", err)
	}
}

// NearbyDriverInfo backs the /drivers/nearby listing.
type NearbyDriverInfo struct {
	DriverID int64             `json:"driver_id"`
	Location presence.Location `json:"location"`
}

func (s *Service) NearbyWithLocations(ctx context.Context, p types.Point) ([]NearbyDriverInfo, error) {
	ids, err := s.pool.NearbyDrivers(ctx, p, s.cfg.RadiusMeters, s.cfg.MaxDrivers)
	if err != nil {
		return nil, err
	}
	out := make([]NearbyDriverInfo, 0, len(ids))
	for _, id := range ids {
		loc, ok, err := s.pool.Location(ctx, id)
		if err != nil || !ok {
			continue
		}
		out = append(out, NearbyDriverInfo{DriverID: id, Location: loc})
	}
	return out, nil
}
