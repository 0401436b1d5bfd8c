// README: Presence store backed by Redis: TTL keys, online set, GEO index, offer bookkeeping.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"wasla/internal/config"
	"wasla/internal/types"
)

const (
	onlineSetKey = "drivers:online"
	geoKey       = "drivers:geo"
)

func connKey(role string, userID int64) string { return fmt.Sprintf("socket:%s:%d", role, userID) }
func stateKey(driverID int64) string           { return fmt.Sprintf("driver:state:%d", driverID) }
func locKey(driverID int64) string             { return fmt.Sprintf("driver:loc:%d", driverID) }
func busyKey(driverID int64) string            { return fmt.Sprintf("driver:busy:%d", driverID) }
func sentKey(rideID int64) string              { return fmt.Sprintf("ride:sent:%d", rideID) }
func rejectedKey(rideID int64) string          { return fmt.Sprintf("ride:rejected:%d", rideID) }

type Store struct {
	rdb *redis.Client
	cfg config.PresenceConfig
}

func NewStore(rdb *redis.Client, cfg config.PresenceConfig) *Store {
	return &Store{rdb: rdb, cfg: cfg}
}

// RegisterConn records which session currently serves a user. The in-process
// hub keeps the actual connection handle; this key only makes the presence
// discoverable across processes.
func (s *Store) RegisterConn(ctx context.Context, role string, userID int64, sessionID string) error {
	return s.rdb.Set(ctx, connKey(role, userID), sessionID, s.cfg.ConnTTL).Err()
}

// RefreshConn extends the connection TTL. Called on every inbound event; this
// is the heartbeat substitute.
func (s *Store) RefreshConn(ctx context.Context, role string, userID int64) error {
	return s.rdb.Expire(ctx, connKey(role, userID), s.cfg.ConnTTL).Err()
}

// RemoveConn deletes the conn key only while it still holds sessionID. A
// displaced session tearing down after its replacement registered must not
// wipe the replacement's key.
func (s *Store) RemoveConn(ctx context.Context, role string, userID int64, sessionID string) error {
	return releaseScript.Run(ctx, s.rdb, []string{connKey(role, userID)}, sessionID).Err()
}

func (s *Store) ConnSession(ctx context.Context, role string, userID int64) (string, bool, error) {
	v, err := s.rdb.Get(ctx, connKey(role, userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetOnline marks a driver dispatchable. Idempotent.
func (s *Store) SetOnline(ctx context.Context, driverID int64) error {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, stateKey(driverID), "online", s.cfg.StateTTL)
	pipe.SAdd(ctx, onlineSetKey, strconv.FormatInt(driverID, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline removes the online marker, set membership, geo entry, and last
// location together. Partial cleanup would leave a stale driver receiving
// offers, so these four always travel as one pipeline.
func (s *Store) SetOffline(ctx context.Context, driverID int64) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, stateKey(driverID))
	pipe.SRem(ctx, onlineSetKey, strconv.FormatInt(driverID, 10))
	pipe.ZRem(ctx, geoKey, strconv.FormatInt(driverID, 10))
	pipe.Del(ctx, locKey(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

// Evict is SetOffline under a name that reads correctly at call sites that
// force a driver out (debt block, disconnect).
func (s *Store) Evict(ctx context.Context, driverID int64) error {
	return s.SetOffline(ctx, driverID)
}

func (s *Store) IsOnline(ctx context.Context, driverID int64) (bool, error) {
	v, err := s.rdb.Get(ctx, stateKey(driverID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "online", nil
}

// RefreshOnline extends the online marker without touching set membership.
func (s *Store) RefreshOnline(ctx context.Context, driverID int64) error {
	return s.rdb.Expire(ctx, stateKey(driverID), s.cfg.StateTTL).Err()
}

// UpdateLocation refreshes the last-known-location record and the geo index
// entry in one pipeline so proximity queries and location reads agree.
func (s *Store) UpdateLocation(ctx context.Context, driverID int64, loc Location) error {
	b, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, locKey(driverID), b, s.cfg.StateTTL)
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      strconv.FormatInt(driverID, 10),
		Longitude: loc.Lng,
		Latitude:  loc.Lat,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Location(ctx context.Context, driverID int64) (Location, bool, error) {
	v, err := s.rdb.Get(ctx, locKey(driverID)).Bytes()
	if err == redis.Nil {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, err
	}
	var loc Location
	if err := json.Unmarshal(v, &loc); err != nil {
		return Location{}, false, err
	}
	return loc, true, nil
}

// NearbyDrivers returns up to count driver ids within radiusMeters of p,
// ascending by distance.
func (s *Store) NearbyDrivers(ctx context.Context, p types.Point, radiusMeters float64, count int) ([]int64, error) {
	results, err := s.rdb.GeoSearch(ctx, geoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
		Count:      count,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MarkBusy ties a driver to an active ride. The TTL is a safety net against
// connections that never report completion.
func (s *Store) MarkBusy(ctx context.Context, driverID, rideID int64) error {
	return s.rdb.Set(ctx, busyKey(driverID), strconv.FormatInt(rideID, 10), s.cfg.BusyTTL).Err()
}

// BusyRide returns the ride a driver is currently tied to, if any.
func (s *Store) BusyRide(ctx context.Context, driverID int64) (int64, bool, error) {
	v, err := s.rdb.Get(ctx, busyKey(driverID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Store) ClearBusy(ctx context.Context, driverID int64) error {
	return s.rdb.Del(ctx, busyKey(driverID)).Err()
}

// AddOffered records drivers in the ride's offer set. The TTL lets a cancelled
// or completed ride's bookkeeping expire on its own.
func (s *Store) AddOffered(ctx context.Context, rideID int64, driverIDs ...int64) error {
	if len(driverIDs) == 0 {
		return nil
	}
	members := make([]any, len(driverIDs))
	for i, id := range driverIDs {
		members[i] = strconv.FormatInt(id, 10)
	}
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, sentKey(rideID), members...)
	pipe.Expire(ctx, sentKey(rideID), s.cfg.OfferTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) OfferedDrivers(ctx context.Context, rideID int64) ([]int64, error) {
	members, err := s.rdb.SMembers(ctx, sentKey(rideID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AddRejection records that a driver declined the ride; future matching
// passes for that ride skip the driver.
func (s *Store) AddRejection(ctx context.Context, rideID, driverID int64) error {
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, rejectedKey(rideID), strconv.FormatInt(driverID, 10))
	pipe.Expire(ctx, rejectedKey(rideID), s.cfg.OfferTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) IsRejected(ctx context.Context, rideID, driverID int64) (bool, error) {
	return s.rdb.SIsMember(ctx, rejectedKey(rideID), strconv.FormatInt(driverID, 10)).Result()
}

// ClearBookkeeping drops a ride's offer and rejection sets once the ride is
// terminal.
func (s *Store) ClearBookkeeping(ctx context.Context, rideID int64) error {
	return s.rdb.Del(ctx, sentKey(rideID), rejectedKey(rideID)).Err()
}
