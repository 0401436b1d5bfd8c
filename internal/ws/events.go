// README: Wire envelope and event names for the dispatch socket.
package ws

import "encoding/json"

// Client-to-server events.
const (
	EventDriverOnline  = "driver:online"
	EventDriverOffline = "driver:offline"
	EventDriverLoc     = "driver:location"
	EventDriverReject  = "driver:reject_request"
	EventDriverAccept  = "driver:accept_request"
	EventDriverArrived = "driver:arrived"
	EventDriverStart   = "driver:start_trip"
	EventDriverEnd     = "driver:end_trip"
	EventRiderCreate   = "rider:create_request"
	EventRiderCancel   = "rider:cancel_request"
)

// Server-to-client events.
const (
	EventRequestNew  = "request:new"
	EventTripStatus  = "trip:status_changed"
	EventDebtBlocked = "driver:debt_blocked"
	EventAck         = "ack"
)

// Envelope frames every message in both directions. id is an optional client
// correlation token echoed back in the ack.
type Envelope struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Ack struct {
	Event  string `json:"event"`
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func ack(id string, data any) Ack {
	return Ack{Event: EventAck, ID: id, OK: true, Data: data}
}

func nack(id, reason string) Ack {
	return Ack{Event: EventAck, ID: id, OK: false, Reason: reason}
}

// locationPayload keeps lat/lng as pointers so an absent coordinate is
// distinguishable from a literal 0 and can be rejected instead of writing
// the driver to (0,0).
type locationPayload struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Heading *float64 `json:"heading,omitempty"`
	TS      int64    `json:"ts,omitempty"`
}

type ridePayload struct {
	RideID int64 `json:"ride_id"`
}

// statusPayload is the trip:status_changed broadcast body.
type statusPayload struct {
	RideID int64  `json:"ride_id"`
	Status string `json:"status"`
	Ride   any    `json:"ride,omitempty"`
}

type createPayload struct {
	Pickup         pointPayload `json:"pickup"`
	Dropoff        pointPayload `json:"dropoff"`
	PickupAddress  *string      `json:"pickup_address,omitempty"`
	DropoffAddress *string      `json:"dropoff_address,omitempty"`
	DistanceKm     *float64     `json:"distance_km,omitempty"`
	DurationMin    *float64     `json:"duration_min,omitempty"`
}

type pointPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
