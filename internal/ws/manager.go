// README: Dispatch session manager. Authenticates the socket, registers
// presence, and routes every inbound event to the domain services.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"wasla/internal/auth"
	"wasla/internal/modules/debt"
	"wasla/internal/modules/matching"
	"wasla/internal/modules/presence"
	"wasla/internal/modules/ride"
	"wasla/internal/notify"
	"wasla/internal/types"
)

type Manager struct {
	hub      *Hub
	presence *presence.Store
	rides    *ride.Service
	matcher  *matching.Service
	debts    *debt.Service
	verifier auth.Verifier
	push     notify.Notifier
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewManager(hub *Hub, p *presence.Store, rides *ride.Service, matcher *matching.Service, debts *debt.Service, verifier auth.Verifier, push notify.Notifier, log *slog.Logger) *Manager {
	return &Manager{
		hub:      hub,
		presence: p,
		rides:    rides,
		matcher:  matcher,
		debts:    debts,
		verifier: verifier,
		push:     push,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func sessionRole(authRole string) (string, bool) {
	switch authRole {
	case auth.RoleDriver:
		return roleDriver, true
	case auth.RoleRider:
		return roleRider, true
	default:
		return "", false
	}
}

func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// Serve upgrades the request and runs the session until the peer goes away.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request) {
	claims, err := m.verifier.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	role, ok := sessionRole(claims.Role)
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(conn, role, claims.UserID)
	ctx := context.Background()

	m.hub.register(s)
	if err := m.presence.RegisterConn(ctx, role, claims.UserID, s.id); err != nil {
		m.log.Warn("conn registration failed", "user_id", claims.UserID, "error", err)
	}
	if role == roleDriver {
		if err := m.presence.SetOnline(ctx, claims.UserID); err != nil {
			m.log.Warn("set online failed", "driver_id", claims.UserID, "error", err)
		}
	}
	m.log.Info("session opened", "session_id", s.id, "role", role, "user_id", claims.UserID)

	go m.pingLoop(s)
	m.readLoop(ctx, s)
	m.teardown(ctx, s)
}

func (m *Manager) pingLoop(s *Session) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for range t.C {
		if err := s.ping(); err != nil {
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, s *Session) {
	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.sendAck(nack("", "bad_envelope"))
			continue
		}
		m.refreshPresence(ctx, s)
		s.sendAck(m.handle(ctx, s, env))
	}
}

// refreshPresence extends the TTLs on every inbound event; this stands in
// for a dedicated heartbeat.
func (m *Manager) refreshPresence(ctx context.Context, s *Session) {
	if err := m.presence.RefreshConn(ctx, s.role, s.userID); err != nil {
		m.log.Warn("conn refresh failed", "user_id", s.userID, "error", err)
	}
	if s.role == roleDriver {
		if err := m.presence.RefreshOnline(ctx, s.userID); err != nil {
			m.log.Warn("online refresh failed", "driver_id", s.userID, "error", err)
		}
	}
}

func (m *Manager) teardown(ctx context.Context, s *Session) {
	s.close()
	current := m.hub.unregister(s)
	if err := m.presence.RemoveConn(ctx, s.role, s.userID, s.id); err != nil {
		m.log.Warn("conn removal failed", "user_id", s.userID, "error", err)
	}
	// a displaced session must not pull the replacement's driver offline
	if s.role == roleDriver && current {
		if err := m.presence.SetOffline(ctx, s.userID); err != nil {
			m.log.Warn("set offline failed", "driver_id", s.userID, "error", err)
		}
	}
	m.log.Info("session closed", "session_id", s.id, "role", s.role, "user_id", s.userID)
}

func (m *Manager) handle(ctx context.Context, s *Session, env Envelope) Ack {
	if s.role == roleDriver {
		return m.handleDriver(ctx, s, env)
	}
	return m.handleRider(ctx, s, env)
}

func (m *Manager) handleDriver(ctx context.Context, s *Session, env Envelope) Ack {
	switch env.Event {
	case EventDriverOnline:
		if err := m.presence.SetOnline(ctx, s.userID); err != nil {
			return nack(env.ID, "internal")
		}
		return ack(env.ID, nil)

	case EventDriverOffline:
		if err := m.presence.SetOffline(ctx, s.userID); err != nil {
			return nack(env.ID, "internal")
		}
		return ack(env.ID, nil)

	case EventDriverLoc:
		return m.handleLocation(ctx, s, env)

	case EventDriverReject:
		var p ridePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RideID == 0 {
			return nack(env.ID, "bad_payload")
		}
		if err := m.presence.AddRejection(ctx, p.RideID, s.userID); err != nil {
			return nack(env.ID, "internal")
		}
		return ack(env.ID, nil)

	case EventDriverAccept:
		return m.handleAccept(ctx, s, env)

	case EventDriverArrived:
		return m.handleAdvance(ctx, s, env, m.rides.Arrive, "Your driver has arrived.")

	case EventDriverStart:
		return m.handleAdvance(ctx, s, env, m.rides.Start, "Your trip has started.")

	case EventDriverEnd:
		return m.handleEnd(ctx, s, env)

	default:
		return nack(env.ID, "unknown_event")
	}
}

func (m *Manager) handleRider(ctx context.Context, s *Session, env Envelope) Ack {
	switch env.Event {
	case EventRiderCreate:
		return m.handleCreate(ctx, s, env)
	case EventRiderCancel:
		return m.handleCancel(ctx, s, env)
	default:
		return nack(env.ID, "unknown_event")
	}
}

func validCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func (m *Manager) handleLocation(ctx context.Context, s *Session, env Envelope) Ack {
	var p locationPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.Lat == nil || p.Lng == nil {
		return nack(env.ID, "bad_payload")
	}
	if !validCoordinate(*p.Lat, *p.Lng) {
		return nack(env.ID, "bad_payload")
	}
	if !s.allowLocation(time.Now()) {
		return nack(env.ID, "throttled")
	}
	ts := p.TS
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	loc := presence.Location{Lat: *p.Lat, Lng: *p.Lng, Heading: p.Heading, TS: ts}
	if err := m.presence.UpdateLocation(ctx, s.userID, loc); err != nil {
		return nack(env.ID, "internal")
	}
	return ack(env.ID, nil)
}

// notifyRiderStatus broadcasts a lifecycle change to the rider, falling back
// to the offline notifier when no session is open. Push failures never roll
// back the persisted transition.
func (m *Manager) notifyRiderStatus(ctx context.Context, r *ride.Request, message string) {
	payload := statusPayload{RideID: r.ID, Status: string(r.Status), Ride: r}
	if m.hub.NotifyRider(r.RiderID, EventTripStatus, payload) {
		return
	}
	if m.push == nil {
		return
	}
	if err := m.push.NotifyUser(ctx, r.RiderID, message, "Ride update"); err != nil {
		m.log.Warn("rider push failed", "ride_id", r.ID, "rider_id", r.RiderID, "error", err)
	}
}

func (m *Manager) handleAccept(ctx context.Context, s *Session, env Envelope) Ack {
	var p ridePayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RideID == 0 {
		return nack(env.ID, "bad_payload")
	}
	r, err := m.rides.Accept(ctx, p.RideID, s.userID)
	if err != nil {
		return nack(env.ID, errReason(err))
	}
	m.notifyRiderStatus(ctx, r, "A driver accepted your ride.")
	return ack(env.ID, r)
}

func (m *Manager) handleAdvance(ctx context.Context, s *Session, env Envelope, op func(context.Context, int64, int64) (*ride.Request, error), message string) Ack {
	var p ridePayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RideID == 0 {
		return nack(env.ID, "bad_payload")
	}
	r, err := op(ctx, p.RideID, s.userID)
	if err != nil {
		return nack(env.ID, errReason(err))
	}
	m.notifyRiderStatus(ctx, r, message)
	return ack(env.ID, r)
}

// handleEnd completes the trip and settles the commission before the ack so
// a blocked driver learns about it immediately.
func (m *Manager) handleEnd(ctx context.Context, s *Session, env Envelope) Ack {
	var p ridePayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RideID == 0 {
		return nack(env.ID, "bad_payload")
	}
	r, err := m.rides.Complete(ctx, p.RideID, s.userID)
	if err != nil {
		return nack(env.ID, errReason(err))
	}
	m.notifyRiderStatus(ctx, r, "Your trip is complete.")

	if _, err := m.debts.ChargeCommission(ctx, s.userID, r.ID, r.EstimatedFare); err != nil {
		m.log.Error("commission charge failed", "ride_id", r.ID, "driver_id", s.userID, "error", err)
	}
	if err := m.presence.ClearBookkeeping(ctx, r.ID); err != nil {
		m.log.Warn("bookkeeping cleanup failed", "ride_id", r.ID, "error", err)
	}
	return ack(env.ID, r)
}

func (m *Manager) handleCreate(ctx context.Context, s *Session, env Envelope) Ack {
	var p createPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nack(env.ID, "bad_payload")
	}
	r, err := m.rides.Create(ctx, ride.CreateCommand{
		RiderID:        s.userID,
		Pickup:         types.Point{Lat: p.Pickup.Lat, Lng: p.Pickup.Lng},
		Dropoff:        types.Point{Lat: p.Dropoff.Lat, Lng: p.Dropoff.Lng},
		PickupAddress:  p.PickupAddress,
		DropoffAddress: p.DropoffAddress,
		DistanceKm:     p.DistanceKm,
		DurationMin:    p.DurationMin,
	})
	if err != nil {
		return nack(env.ID, errReason(err))
	}
	if _, err := m.matcher.Dispatch(ctx, r); err != nil {
		m.log.Warn("dispatch failed", "ride_id", r.ID, "error", err)
	}
	return ack(env.ID, r)
}

func (m *Manager) handleCancel(ctx context.Context, s *Session, env Envelope) Ack {
	var p ridePayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RideID == 0 {
		return nack(env.ID, "bad_payload")
	}
	r, err := m.rides.Cancel(ctx, p.RideID, s.userID)
	if err != nil {
		return nack(env.ID, errReason(err))
	}
	m.matcher.BroadcastCancelled(ctx, r.ID, r.DriverID)
	return ack(env.ID, r)
}

// errReason maps service errors to stable wire reasons.
func errReason(err error) string {
	var active *ride.ActiveRideError
	switch {
	case errors.As(err, &active):
		return "active_ride_exists"
	case errors.Is(err, ride.ErrNotFound):
		return "not_found"
	case errors.Is(err, ride.ErrNotPending):
		return "not_pending"
	case errors.Is(err, ride.ErrAlreadyTaken):
		return "already_taken"
	case errors.Is(err, ride.ErrDebtBlocked):
		return "debt_blocked"
	case errors.Is(err, ride.ErrDriverBusy):
		return "driver_busy"
	case errors.Is(err, ride.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ride.ErrNotAssignedDriver):
		return "not_assigned_driver"
	case errors.Is(err, ride.ErrBadRequest):
		return "bad_payload"
	default:
		return "internal"
	}
}
