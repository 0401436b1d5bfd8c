// README: HTTP router registration.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wasla/internal/auth"
	"wasla/internal/http/handlers"
	"wasla/internal/http/middleware"
	"wasla/internal/modules/debt"
	"wasla/internal/modules/matching"
	"wasla/internal/modules/ride"
	"wasla/internal/modules/settings"
	"wasla/internal/ws"
)

type RouterDeps struct {
	Rides    *ride.Service
	Matcher  *matching.Service
	Debts    *debt.Service
	Settings *settings.Store
	Sessions *ws.Manager
	Verifier auth.Verifier
	Log      *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) { c.String(200, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// the session manager authenticates the socket itself
	r.GET("/ws", func(c *gin.Context) {
		deps.Sessions.Serve(c.Writer, c.Request)
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	rideHandler := handlers.NewRideHandler(deps.Rides, deps.Matcher)
	api.POST("/rides", rideHandler.Create)
	api.GET("/rides/active", rideHandler.Active)
	api.GET("/rides/:id", rideHandler.Get)
	api.POST("/rides/:id/cancel", rideHandler.Cancel)
	api.GET("/rides/rider/:id", rideHandler.ListByRider)
	api.GET("/rides/driver/:id", rideHandler.ListByDriver)

	driverHandler := handlers.NewDriverHandler(deps.Matcher)
	api.GET("/drivers/nearby", driverHandler.Nearby)

	adminHandler := handlers.NewAdminHandler(deps.Debts, deps.Settings)
	admin := api.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
	admin.GET("/debt/settings", adminHandler.GetDebtSettings)
	admin.PUT("/debt/settings", adminHandler.PutDebtSettings)
	admin.GET("/debt/drivers", adminHandler.ListDebtors)
	admin.GET("/debt/drivers/:id", adminHandler.GetDriverDebt)
	admin.GET("/debt/drivers/:id/ledger", adminHandler.ListLedger)
	admin.POST("/debt/drivers/:id/pay", adminHandler.Pay)
	admin.POST("/debt/drivers/:id/reset", adminHandler.Reset)
	admin.PUT("/debt/drivers/:id/limit", adminHandler.SetLimitOverride)

	return r
}
