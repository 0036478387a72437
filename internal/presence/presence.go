// Package presence maintains each member's online flag and last-seen
// timestamp. The stored flag is only an optimistic signal: clients that
// disconnect uncleanly never call MarkOffline, so readers must combine the
// flag with a staleness window instead of trusting it.
package presence

import (
	"context"
	"strings"
	"time"

	"acsmulungu.org/internal/member"
)

// StaleWindow is how long a heartbeat keeps a member counted as online.
// Clients send a heartbeat every HeartbeatInterval while a session is
// active, so three missed beats flip the derived status to offline.
const (
	StaleWindow       = 3 * time.Minute
	HeartbeatInterval = time.Minute
)

// Tracker records heartbeats and logouts. Failed writes are not retried
// here; the next heartbeat tick self-heals a missed one.
type Tracker struct {
	store member.Store
	now   func() time.Time
}

// NewTracker builds a tracker. now defaults to time.Now.
func NewTracker(store member.Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// Heartbeat marks the member online as of now. Idempotent; concurrent beats
// from multiple devices of the same member are last-write-wins on LastSeen.
func (t *Tracker) Heartbeat(ctx context.Context, memberID string) error {
	if strings.TrimSpace(memberID) == "" {
		return member.ErrNotFound
	}
	return t.store.SetOnline(ctx, memberID, t.now().UTC())
}

// MarkOffline records an explicit logout. Best effort: an unclean
// disconnect simply leaves the stored flag stale until the window expires.
func (t *Tracker) MarkOffline(ctx context.Context, memberID string) error {
	if strings.TrimSpace(memberID) == "" {
		return member.ErrNotFound
	}
	return t.store.SetOffline(ctx, memberID)
}

// IsTrulyOnline is the read-side predicate: the stored flag holds and the
// last heartbeat is fresh. It never mutates the record; a stale flag is
// simply read as offline.
func IsTrulyOnline(m member.Member, now time.Time) bool {
	return m.IsOnline && now.Sub(m.LastSeen) < StaleWindow
}

// OnlineMembers filters members to those truly online at now.
func OnlineMembers(members []member.Member, now time.Time) []member.Member {
	var out []member.Member
	for _, m := range members {
		if IsTrulyOnline(m, now) {
			out = append(out, m)
		}
	}
	return out
}

// OnlineCount reads the directory and counts truly online members.
func (t *Tracker) OnlineCount(ctx context.Context) (int, error) {
	members, err := t.store.ListMembers(ctx)
	if err != nil {
		return 0, err
	}
	return len(OnlineMembers(members, t.now().UTC())), nil
}
