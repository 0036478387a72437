// Package redis keeps the hot presence path and the portal visit counter in
// Redis while profile data stays in the primary store. Heartbeats land as a
// hash write per member; the staleness window still lives with the reader,
// so no TTL expiry is used to infer offline.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"acsmulungu.org/internal/member"
)

// Config represents the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store decorates a primary member.Store, moving presence writes and the
// portal counter into Redis. All other operations delegate.
type Store struct {
	member.Store
	rdb *redis.Client
}

var (
	_ member.Store      = (*Store)(nil)
	_ member.StatsStore = (*Store)(nil)
)

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config, primary member.Store) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{Store: primary, rdb: rdb}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

// presence key: portal:presence:<member>
func presenceKey(id string) string { return "portal:presence:" + id }

const statsKey = "portal:stats:access_count"

// SetOnline records a heartbeat in Redis only; the primary record keeps its
// last persisted presence snapshot. The member must exist in the primary
// store, matching the other backends.
func (s *Store) SetOnline(ctx context.Context, id string, seen time.Time) error {
	if _, err := s.Store.GetMember(ctx, id); err != nil {
		return err
	}
	return s.rdb.HSet(ctx, presenceKey(id),
		"online", 1,
		"last_seen", seen.UnixMilli(),
	).Err()
}

// SetOffline marks the explicit logout.
func (s *Store) SetOffline(ctx context.Context, id string) error {
	if _, err := s.Store.GetMember(ctx, id); err != nil {
		return err
	}
	return s.rdb.HSet(ctx, presenceKey(id), "online", 0).Err()
}

// GetMember merges the Redis presence hash into the primary record.
func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	m, err := s.Store.GetMember(ctx, id)
	if err != nil {
		return member.Member{}, err
	}
	return s.merge(ctx, m)
}

// ListMembers merges presence for every record.
func (s *Store) ListMembers(ctx context.Context) ([]member.Member, error) {
	members, err := s.Store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if members[i], err = s.merge(ctx, members[i]); err != nil {
			return nil, err
		}
	}
	return members, nil
}

// ApplyVisit delegates the rollover to the primary store and refreshes the
// Redis last-seen stamp alongside.
func (s *Store) ApplyVisit(ctx context.Context, id, today string, now time.Time) (member.Member, error) {
	m, err := s.Store.ApplyVisit(ctx, id, today, now)
	if err != nil {
		return member.Member{}, err
	}
	if err := s.rdb.HSet(ctx, presenceKey(id), "last_seen", now.UnixMilli()).Err(); err != nil {
		return member.Member{}, err
	}
	return s.merge(ctx, m)
}

// DeleteMember drops the presence hash with the record.
func (s *Store) DeleteMember(ctx context.Context, id string) error {
	if err := s.Store.DeleteMember(ctx, id); err != nil {
		return err
	}
	return s.rdb.Del(ctx, presenceKey(id)).Err()
}

// DeleteMembersExcept drops the presence hashes alongside the records so a
// later member with a reused id does not inherit stale liveness.
func (s *Store) DeleteMembersExcept(ctx context.Context, keepID string) (int64, error) {
	members, err := s.Store.ListMembers(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.Store.DeleteMembersExcept(ctx, keepID)
	if err != nil {
		return 0, err
	}
	var keys []string
	for _, m := range members {
		if m.ID != keepID {
			keys = append(keys, presenceKey(m.ID))
		}
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *Store) IncrementPortalVisits(ctx context.Context) (int64, error) {
	return s.rdb.Incr(ctx, statsKey).Result()
}

func (s *Store) PortalVisits(ctx context.Context) (int64, error) {
	v, err := s.rdb.Get(ctx, statsKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Store) merge(ctx context.Context, m member.Member) (member.Member, error) {
	vals, err := s.rdb.HGetAll(ctx, presenceKey(m.ID)).Result()
	if err != nil {
		return member.Member{}, err
	}
	if len(vals) == 0 {
		return m, nil
	}
	if v, ok := vals["online"]; ok {
		m.IsOnline = v == "1"
	}
	if v, ok := vals["last_seen"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			if seen := time.UnixMilli(ms).UTC(); seen.After(m.LastSeen) {
				m.LastSeen = seen
			}
		}
	}
	return m, nil
}
