// README: Entry point; loads config, wires services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wasla/internal/auth"
	"wasla/internal/config"
	httptransport "wasla/internal/http"
	"wasla/internal/infra"
	"wasla/internal/logging"
	"wasla/internal/modules/debt"
	"wasla/internal/modules/matching"
	"wasla/internal/modules/presence"
	"wasla/internal/modules/pricing"
	"wasla/internal/modules/ride"
	"wasla/internal/modules/settings"
	"wasla/internal/notify"
	"wasla/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	push := notify.NewPushNotifier(cfg.Push.Endpoint, cfg.Push.APIKey, cfg.Push.AppID, logger)

	presenceStore := presence.NewStore(redisClient, cfg.Presence)
	acceptLock := presence.NewLock(redisClient, cfg.Presence.LockTTL)

	pricingStore := pricing.NewStore(dbPool)
	pricingSvc := pricing.NewService(pricingStore, logger)

	settingsStore := settings.NewStore(dbPool)

	hub := ws.NewHub()

	debtStore := debt.NewStore(dbPool)
	debtSvc := debt.NewService(debtStore, settingsStore, presenceStore, hub, push, logger)

	rideStore := ride.NewStore(dbPool)
	rideSvc := ride.NewService(rideStore, acceptLock, pricingSvc, debtSvc, presenceStore, logger)

	matchingSvc := matching.NewService(presenceStore, hub, cfg.Matching, logger)

	sessions := ws.NewManager(hub, presenceStore, rideSvc, matchingSvc, debtSvc, verifier, push, logger)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:    rideSvc,
		Matcher:  matchingSvc,
		Debts:    debtSvc,
		Settings: settingsStore,
		Sessions: sessions,
		Verifier: verifier,
		Log:      logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("server starting", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logger.Info("server stopped")
}
