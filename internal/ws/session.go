// README: A single dispatch socket. Writes are serialized behind a mutex;
// the transport stays alive via ping/pong deadlines.
package ws

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wasla/internal/modules/presence"
)

const (
	roleDriver = presence.RoleDriver
	roleRider  = presence.RoleRider

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type Session struct {
	id     string
	role   string
	userID int64
	conn   *websocket.Conn

	mu      sync.Mutex
	closed  bool
	lastLoc time.Time
}

func newSessionID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "sess-fallback"
	}
	return hex.EncodeToString(b[:])
}

func newSession(conn *websocket.Conn, role string, userID int64) *Session {
	return &Session{id: newSessionID(), role: role, userID: userID, conn: conn}
}

func (s *Session) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) sendEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.write(Envelope{Event: event, Data: data})
}

func (s *Session) sendAck(a Ack) {
	_ = s.write(a)
}

func (s *Session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Close()
}

// allowLocation enforces at most one location update per second.
func (s *Session) allowLocation(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastLoc) < time.Second {
		return false
	}
	s.lastLoc = now
	return true
}
