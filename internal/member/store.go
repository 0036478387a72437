package member

import (
	"context"
	"time"
)

// Store is the member repository capability set. Implementations serialise
// writes per record; there is no cross-record ordering guarantee and none is
// required since state is partitioned by member id.
type Store interface {
	GetMember(ctx context.Context, id string) (Member, error)
	FindByCPF(ctx context.Context, cpf string) (Member, error)
	ListMembers(ctx context.Context) ([]Member, error)
	PutMember(ctx context.Context, m Member) error
	DeleteMember(ctx context.Context, id string) error

	// DeleteMembersExcept removes every member record except keepID and
	// returns the number removed. Backs the admin database reset.
	DeleteMembersExcept(ctx context.Context, keepID string) (int64, error)

	// SetOnline records a heartbeat: online flag true, LastSeen = seen.
	SetOnline(ctx context.Context, id string, seen time.Time) error
	// SetOffline records an explicit logout. LastSeen is left untouched.
	SetOffline(ctx context.Context, id string) error

	// ApplyVisit performs the daily-rollover update as one logical
	// operation: reset DailyAccessCount to 1 and overwrite LastDailyReset
	// when today differs from the stored day, otherwise increment it; in
	// both cases increment AccessCount and refresh LastSeen. Backends with
	// conditional-update support apply it atomically; plain read-then-write
	// backends may under-count by one visit when two calls race across a
	// day boundary, which is accepted behaviour.
	ApplyVisit(ctx context.Context, id string, today string, now time.Time) (Member, error)
}

// StatsStore tracks the portal-wide visit counter, a sibling of the
// per-member accounting.
type StatsStore interface {
	IncrementPortalVisits(ctx context.Context) (int64, error)
	PortalVisits(ctx context.Context) (int64, error)
}
