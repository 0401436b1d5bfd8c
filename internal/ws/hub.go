// README: In-process session registry. One live session per (role, user);
// a new connection displaces the old one.
package ws

import (
	"sync"

	"wasla/internal/observability"
)

type sessionKey struct {
	role   string
	userID int64
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*Session
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[sessionKey]*Session)}
}

// register adds the session, closing any previous one for the same user.
func (h *Hub) register(s *Session) {
	key := sessionKey{role: s.role, userID: s.userID}
	h.mu.Lock()
	old := h.sessions[key]
	h.sessions[key] = s
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
	observability.ConnectionsActive.Inc()
}

// unregister removes the session if it is still the registered one. Reports
// false when a newer session has already displaced it, so the caller can skip
// presence teardown that would clobber the replacement's state.
func (h *Hub) unregister(s *Session) bool {
	key := sessionKey{role: s.role, userID: s.userID}
	h.mu.Lock()
	current := h.sessions[key] == s
	if current {
		delete(h.sessions, key)
	}
	h.mu.Unlock()
	observability.ConnectionsActive.Dec()
	return current
}

func (h *Hub) get(role string, userID int64) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sessionKey{role: role, userID: userID}]
}

func (h *Hub) notify(role string, userID int64, event string, payload any) bool {
	s := h.get(role, userID)
	if s == nil {
		return false
	}
	return s.sendEvent(event, payload) == nil
}

// NotifyDriver delivers an event to a driver's open session; reports false
// when no session is open or the write fails.
func (h *Hub) NotifyDriver(driverID int64, event string, payload any) bool {
	return h.notify(roleDriver, driverID, event, payload)
}

func (h *Hub) NotifyRider(riderID int64, event string, payload any) bool {
	return h.notify(roleRider, riderID, event, payload)
}
