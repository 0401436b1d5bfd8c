// README: Ephemeral driver presence facts, all TTL-bound.
package presence

// Role qualifies connection keys so a rider and a driver with the same id
// never collide.
const (
	RoleRider  = "rider"
	RoleDriver = "driver"
)

// Location is a driver's last reported coordinate.
type Location struct {
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Heading *float64 `json:"heading"`
	TS      int64    `json:"ts"`
}
