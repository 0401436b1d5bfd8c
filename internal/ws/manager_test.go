// README: Envelope, validation, and throttle tests.
package ws

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"wasla/internal/modules/ride"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	raw := []byte(`{"id":"abc","event":"driver:location","data":{"lat":36.19,"lng":44.01}}`)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.ID != "abc" || env.Event != EventDriverLoc {
		t.Fatalf("envelope = %+v", env)
	}
	var p locationPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Lat == nil || p.Lng == nil || *p.Lat != 36.19 || *p.Lng != 44.01 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestLocationRejectedWithoutCoordinates(t *testing.T) {
	m := &Manager{}
	cases := []string{
		`{"heading":90}`,
		`{"lat":36.19}`,
		`{"lng":44.01}`,
	}
	for _, raw := range cases {
		a := m.handleLocation(context.Background(), &Session{}, Envelope{ID: "1", Data: json.RawMessage(raw)})
		if a.OK || a.Reason != "bad_payload" {
			t.Errorf("location %s acked %+v, want bad_payload nack", raw, a)
		}
	}
}

func TestValidCoordinate(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{36.19, 44.01, true},
		{-90, -180, true},
		{90, 180, true},
		{90.001, 0, false},
		{0, 180.5, false},
		{math.NaN(), 0, false},
		{0, math.Inf(1), false},
	}
	for _, tc := range cases {
		if got := validCoordinate(tc.lat, tc.lng); got != tc.want {
			t.Errorf("validCoordinate(%v, %v) = %v, want %v", tc.lat, tc.lng, got, tc.want)
		}
	}
}

func TestLocationThrottle(t *testing.T) {
	s := &Session{}
	base := time.Now()
	if !s.allowLocation(base) {
		t.Fatal("first update must pass")
	}
	if s.allowLocation(base.Add(300 * time.Millisecond)) {
		t.Fatal("update within one second must be throttled")
	}
	if !s.allowLocation(base.Add(1100 * time.Millisecond)) {
		t.Fatal("update after one second must pass")
	}
}

func TestHubUnregisterReportsDisplacement(t *testing.T) {
	h := NewHub()
	old := &Session{id: "a", role: roleDriver, userID: 42, closed: true}
	replacement := &Session{id: "b", role: roleDriver, userID: 42, closed: true}

	h.register(old)
	h.register(replacement)

	if h.unregister(old) {
		t.Error("displaced session must not report itself as current")
	}
	if h.get(roleDriver, 42) != replacement {
		t.Error("displaced teardown removed the replacement session")
	}
	if !h.unregister(replacement) {
		t.Error("current session must report itself as current")
	}
	if h.get(roleDriver, 42) != nil {
		t.Error("session survived its own unregister")
	}
}

func TestHubNotifyWithoutSession(t *testing.T) {
	h := NewHub()
	if h.NotifyDriver(42, EventRequestNew, nil) {
		t.Error("notify must report false without an open session")
	}
	if h.NotifyRider(7, EventTripStatus, nil) {
		t.Error("notify must report false without an open session")
	}
}

func TestErrReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ride.ActiveRideError{RideID: 1, Status: ride.StatusPending}, "active_ride_exists"},
		{ride.ErrNotFound, "not_found"},
		{ride.ErrAlreadyTaken, "already_taken"},
		{ride.ErrNotPending, "not_pending"},
		{ride.ErrDebtBlocked, "debt_blocked"},
		{ride.ErrDriverBusy, "driver_busy"},
		{ride.ErrInvalidState, "invalid_state"},
		{ride.ErrNotAssignedDriver, "not_assigned_driver"},
		{ride.ErrBadRequest, "bad_payload"},
	}
	for _, tc := range cases {
		if got := errReason(tc.err); got != tc.want {
			t.Errorf("errReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestSessionRoleMapping(t *testing.T) {
	if r, ok := sessionRole("driver"); !ok || r != roleDriver {
		t.Errorf("driver role mapped to %q, ok=%v", r, ok)
	}
	if r, ok := sessionRole("user"); !ok || r != roleRider {
		t.Errorf("user role mapped to %q, ok=%v", r, ok)
	}
	if _, ok := sessionRole("admin"); ok {
		t.Error("admin must not open a dispatch session")
	}
}
