// README: Prometheus metrics for the dispatch core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasla_offers_sent_total",
		Help: "Ride offers pushed to driver connections.",
	})
	AcceptsWon = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasla_accepts_won_total",
		Help: "Acceptance attempts that won the ride.",
	})
	AcceptsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wasla_accepts_lost_total",
		Help: "Acceptance attempts that lost, by reason.",
	}, []string{"reason"})
	CommissionsCharged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasla_commissions_charged_total",
		Help: "Commission charges applied on completed trips.",
	})
	DriversDebtBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wasla_drivers_debt_blocked_total",
		Help: "Drivers blocked for crossing the debt limit.",
	})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wasla_ws_connections_active",
		Help: "Currently registered live connections.",
	})
)
