// README: Ride request aggregate and lifecycle state machine.
package ride

import (
	"time"

	"wasla/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusArrived   Status = "arrived"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Request is the durable ride row. driver_id is set exactly once, atomically
// with the pending→accepted transition; terminal rows are never mutated.
type Request struct {
	ID             int64        `json:"id"`
	RiderID        int64        `json:"rider_id"`
	DriverID       *int64       `json:"driver_id"`
	Status         Status       `json:"status"`
	Pickup         types.Point  `json:"pickup"`
	PickupAddress  *string      `json:"pickup_address"`
	Dropoff        types.Point  `json:"dropoff"`
	DropoffAddress *string      `json:"dropoff_address"`
	DistanceKm     *float64     `json:"distance_km"`
	DurationMin    *float64     `json:"duration_min"`
	EstimatedFare  *types.Money `json:"estimated_fare"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ActiveStatuses are the non-terminal states; a rider may hold at most one
// request in any of them.
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusArrived, StatusStarted}

// AllowedTransitions encodes the lifecycle: the happy path moves strictly
// forward, cancellation is reachable from every non-terminal state.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusArrived, StatusCancelled},
	StatusArrived:  {StatusStarted, StatusCancelled},
	StatusStarted:  {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
