// README: Pricing parameters; the latest row wins.
package pricing

import "time"

// Setting is one versioned row of pricing parameters. Written by the admin
// service; this core only reads the most recent row.
type Setting struct {
	ID             int64
	BaseFare       float64
	PricePerKm     float64
	PricePerMinute *float64
	MinimumFare    *float64
	CreatedAt      time.Time
}

// Defaults used when no pricing row exists or the read fails. Matching the
// operational baseline keeps fare estimation available during DB trouble.
const (
	DefaultBaseFare       = 2000
	DefaultPricePerKm     = 500
	DefaultPricePerMinute = 0
	DefaultMinimumFare    = 3000
)
