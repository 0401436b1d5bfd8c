// README: Matching engine tests with an in-memory pool.
package matching

import (
	"context"
	"log/slog"
	"testing"

	"wasla/internal/config"
	"wasla/internal/modules/presence"
	"wasla/internal/modules/ride"
	"wasla/internal/types"
)

type memPool struct {
	nearby    []int64
	online    map[int64]bool
	busy      map[int64]int64
	rejected  map[int64]bool
	locations map[int64]presence.Location
	offered   map[int64][]int64
	cleared   []int64
}

func newMemPool(nearby ...int64) *memPool {
	p := &memPool{
		nearby:    nearby,
		online:    make(map[int64]bool),
		busy:      make(map[int64]int64),
		rejected:  make(map[int64]bool),
		locations: make(map[int64]presence.Location),
		offered:   make(map[int64][]int64),
	}
	for _, id := range nearby {
		p.online[id] = true
	}
	return p
}

func (p *memPool) NearbyDrivers(_ context.Context, _ types.Point, _ float64, _ int) ([]int64, error) {
	return p.nearby, nil
}

func (p *memPool) IsOnline(_ context.Context, driverID int64) (bool, error) {
	return p.online[driverID], nil
}

func (p *memPool) BusyRide(_ context.Context, driverID int64) (int64, bool, error) {
	id, ok := p.busy[driverID]
	return id, ok, nil
}

func (p *memPool) IsRejected(_ context.Context, _ int64, driverID int64) (bool, error) {
	return p.rejected[driverID], nil
}

func (p *memPool) AddOffered(_ context.Context, rideID int64, driverIDs ...int64) error {
	p.offered[rideID] = append(p.offered[rideID], driverIDs...)
	return nil
}

func (p *memPool) OfferedDrivers(_ context.Context, rideID int64) ([]int64, error) {
	return p.offered[rideID], nil
}

func (p *memPool) Location(_ context.Context, driverID int64) (presence.Location, bool, error) {
	loc, ok := p.locations[driverID]
	return loc, ok, nil
}

func (p *memPool) ClearBookkeeping(_ context.Context, rideID int64) error {
	p.cleared = append(p.cleared, rideID)
	return nil
}

type recordingLive struct {
	offline map[int64]bool
	sent    []struct {
		driverID int64
		event    string
	}
}

func (l *recordingLive) NotifyDriver(driverID int64, event string, _ any) bool {
	if l.offline[driverID] {
		return false
	}
	l.sent = append(l.sent, struct {
		driverID int64
		event    string
	}{driverID, event})
	return true
}

func (l *recordingLive) driversFor(event string) []int64 {
	var out []int64
	for _, s := range l.sent {
		if s.event == event {
			out = append(out, s.driverID)
		}
	}
	return out
}

func testCfg() config.MatchingConfig {
	return config.MatchingConfig{RadiusMeters: 5000, MaxDrivers: 30}
}

func pendingRequest() *ride.Request {
	return &ride.Request{
		ID:      17,
		RiderID: 7,
		Status:  ride.StatusPending,
		Pickup:  types.Point{Lat: 36.19, Lng: 44.01},
		Dropoff: types.Point{Lat: 36.21, Lng: 44.05},
	}
}

func TestDispatchOffersToEligibleDrivers(t *testing.T) {
	pool := newMemPool(1, 2, 3)
	live := &recordingLive{}
	svc := NewService(pool, live, testCfg(), slog.Default())

	n, err := svc.Dispatch(context.Background(), pendingRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 3 {
		t.Fatalf("offered = %d, want 3", n)
	}
	if got := live.driversFor("request:new"); len(got) != 3 {
		t.Fatalf("request:new sent to %v, want 3 drivers", got)
	}
	if got := pool.offered[17]; len(got) != 3 {
		t.Fatalf("offer bookkeeping = %v, want 3 drivers", got)
	}
}

func TestDispatchSkipsIneligibleDrivers(t *testing.T) {
	pool := newMemPool(1, 2, 3, 4)
	pool.online[2] = false
	pool.busy[3] = 99
	pool.rejected[4] = true
	live := &recordingLive{}
	svc := NewService(pool, live, testCfg(), slog.Default())

	n, err := svc.Dispatch(context.Background(), pendingRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("offered = %d, want 1", n)
	}
	got := live.driversFor("request:new")
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("request:new sent to %v, want [1]", got)
	}
}

func TestDispatchNoCandidates(t *testing.T) {
	pool := newMemPool()
	live := &recordingLive{}
	svc := NewService(pool, live, testCfg(), slog.Default())

	n, err := svc.Dispatch(context.Background(), pendingRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("offered = %d, want 0", n)
	}
	if len(pool.offered[17]) != 0 {
		t.Error("no bookkeeping expected without offers")
	}
}

func TestDispatchRecordsOfflineDeliveries(t *testing.T) {
	// a driver with presence keys but no open session still counts as
	// offered; the offer set drives the cancellation broadcast later
	pool := newMemPool(1, 2)
	live := &recordingLive{offline: map[int64]bool{2: true}}
	svc := NewService(pool, live, testCfg(), slog.Default())

	n, err := svc.Dispatch(context.Background(), pendingRequest())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("offered = %d, want 2", n)
	}
}

func TestBroadcastCancelled(t *testing.T) {
	pool := newMemPool(1, 2)
	pool.offered[17] = []int64{1, 2}
	live := &recordingLive{}
	svc := NewService(pool, live, testCfg(), slog.Default())

	svc.BroadcastCancelled(context.Background(), 17, nil)

	got := live.driversFor("trip:status_changed")
	if len(got) != 2 {
		t.Fatalf("trip:status_changed sent to %v, want 2 drivers", got)
	}
	if len(pool.cleared) != 1 || pool.cleared[0] != 17 {
		t.Errorf("cleared = %v, want [17]", pool.cleared)
	}
}

func TestBroadcastCancelledIncludesAssignedDriverOnce(t *testing.T) {
	pool := newMemPool(1, 2)
	pool.offered[17] = []int64{1, 2}
	live := &recordingLive{}
	svc := NewService(pool, live, testCfg(), slog.Default())

	assigned := int64(2)
	svc.BroadcastCancelled(context.Background(), 17, &assigned)

	got := live.driversFor("trip:status_changed")
	if len(got) != 2 {
		t.Fatalf("assigned driver in the offer set must not be notified twice, got %v", got)
	}

	live.sent = nil
	outside := int64(9)
	svc.BroadcastCancelled(context.Background(), 17, &outside)
	got = live.driversFor("trip:status_changed")
	found := false
	for _, id := range got {
		if id == 9 {
			found = true
		}
	}
	if !found {
		t.Errorf("assigned driver outside the offer set must be notified, got %v", got)
	}
}

func TestNearbyWithLocations(t *testing.T) {
	pool := newMemPool(1, 2, 3)
	pool.locations[1] = presence.Location{Lat: 36.1, Lng: 44.0}
	pool.locations[3] = presence.Location{Lat: 36.2, Lng: 44.1}
	svc := NewService(pool, &recordingLive{}, testCfg(), slog.Default())

	got, err := svc.NearbyWithLocations(context.Background(), types.Point{Lat: 36.19, Lng: 44.01})
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	// driver 2 has no stored location and is dropped
	if len(got) != 2 {
		t.Fatalf("nearby = %v, want 2 entries", got)
	}
	if got[0].DriverID != 1 || got[1].DriverID != 3 {
		t.Errorf("nearby order = %v, want [1 3]", got)
	}
}
