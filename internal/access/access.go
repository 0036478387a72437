// Package access keeps the lifetime and per-day visit counters. A visit is
// recorded once per successful login, not per page view.
package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"acsmulungu.org/internal/member"
)

// Counter applies visit accounting to member records and the portal-wide
// stats counter.
type Counter struct {
	members member.Store
	stats   member.StatsStore
	now     func() time.Time
}

// NewCounter builds a counter. stats may be nil when the deployment does not
// track the portal-wide total. now defaults to time.Now.
func NewCounter(members member.Store, stats member.StatsStore, now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{members: members, stats: stats, now: now}
}

// RecordVisit applies one visit for the member on the current calendar day:
// the daily counter resets to 1 when the stored day differs from today,
// increments otherwise, and the lifetime counter always increments. The
// rollover is delegated to the store as a single logical update; see
// member.Store.ApplyVisit for the accepted day-boundary race.
func (c *Counter) RecordVisit(ctx context.Context, memberID string) (member.Member, error) {
	if strings.TrimSpace(memberID) == "" {
		return member.Member{}, member.ErrNotFound
	}
	now := c.now().UTC()
	m, err := c.members.ApplyVisit(ctx, memberID, member.DayOf(now), now)
	if err != nil {
		return member.Member{}, fmt.Errorf("record visit: %w", err)
	}
	if c.stats != nil {
		// The portal total is independent of the member record; a failed
		// increment does not undo the visit.
		if _, err := c.stats.IncrementPortalVisits(ctx); err != nil {
			return m, fmt.Errorf("portal visit counter: %w", err)
		}
	}
	return m, nil
}

// PortalVisits returns the portal-wide lifetime visit total.
func (c *Counter) PortalVisits(ctx context.Context) (int64, error) {
	if c.stats == nil {
		return 0, nil
	}
	return c.stats.PortalVisits(ctx)
}
