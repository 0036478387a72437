package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"acsmulungu.org/internal/ids"
)

// Directory manages member records over a Store.
type Directory struct {
	store Store
	now   func() time.Time
}

// NewDirectory builds a directory service. now defaults to time.Now.
func NewDirectory(store Store, now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{store: store, now: now}
}

// Create registers a new member with defaults: generated id, pending status,
// ACS role, zero counters, offline.
func (d *Directory) Create(ctx context.Context, m Member) (Member, error) {
	if err := validate(m); err != nil {
		return Member{}, err
	}
	m.ID = ids.New()
	m.CPF = NormalizeCPF(m.CPF)
	if m.Status == "" {
		m.Status = StatusPending
	}
	if m.Role == "" {
		m.Role = RoleACS
	}
	m.RegistrationDate = d.now().UTC()
	m.IsOnline = false
	m.AccessCount = 0
	m.DailyAccessCount = 0
	m.LastDailyReset = ""
	if err := d.store.PutMember(ctx, m); err != nil {
		return Member{}, fmt.Errorf("create member: %w", err)
	}
	return m, nil
}

// Save updates an existing member's profile. Presence and counter fields are
// carried over from the stored record so a profile edit never clobbers them.
func (d *Directory) Save(ctx context.Context, m Member) (Member, error) {
	if m.ID == "" {
		return Member{}, ErrInvalidMember
	}
	if err := validate(m); err != nil {
		return Member{}, err
	}
	cur, err := d.store.GetMember(ctx, m.ID)
	if err != nil {
		return Member{}, err
	}
	m.CPF = NormalizeCPF(m.CPF)
	m.RegistrationDate = cur.RegistrationDate
	m.IsOnline = cur.IsOnline
	m.LastSeen = cur.LastSeen
	m.AccessCount = cur.AccessCount
	m.DailyAccessCount = cur.DailyAccessCount
	m.LastDailyReset = cur.LastDailyReset
	if m.Password == "" {
		m.Password = cur.Password
	}
	if err := d.store.PutMember(ctx, m); err != nil {
		return Member{}, fmt.Errorf("save member: %w", err)
	}
	return m, nil
}

// Get returns one member by id.
func (d *Directory) Get(ctx context.Context, id string) (Member, error) {
	if strings.TrimSpace(id) == "" {
		return Member{}, ErrNotFound
	}
	return d.store.GetMember(ctx, id)
}

// List returns all members, newest registration first.
func (d *Directory) List(ctx context.Context) ([]Member, error) {
	return d.store.ListMembers(ctx)
}

// Delete removes a member record. Presence and counter fields go with it;
// they are never deleted independently.
func (d *Directory) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	return d.store.DeleteMember(ctx, id)
}

// PurgeExcept removes every member record except keepID, which must name an
// existing record, and returns the number removed. This is the destructive
// half of the admin database reset.
func (d *Directory) PurgeExcept(ctx context.Context, keepID string) (int64, error) {
	if strings.TrimSpace(keepID) == "" {
		return 0, ErrNotFound
	}
	if _, err := d.store.GetMember(ctx, keepID); err != nil {
		return 0, err
	}
	n, err := d.store.DeleteMembersExcept(ctx, keepID)
	if err != nil {
		return 0, fmt.Errorf("purge members: %w", err)
	}
	return n, nil
}

// ErrBadCredentials is returned when a login attempt fails.
var ErrBadCredentials = errors.New("invalid credentials")

// Authenticate resolves a login by CPF. The configured shared portal
// password is accepted for any member; this mirrors the existing scheme and
// is deliberately not hardened here.
func (d *Directory) Authenticate(ctx context.Context, cpf, password, sharedPassword string) (Member, error) {
	cpf = NormalizeCPF(cpf)
	if cpf == "" || password == "" {
		return Member{}, ErrBadCredentials
	}
	m, err := d.store.FindByCPF(ctx, cpf)
	if errors.Is(err, ErrNotFound) {
		return Member{}, ErrBadCredentials
	}
	if err != nil {
		return Member{}, err
	}
	if (m.Password != "" && password == m.Password) || (sharedPassword != "" && password == sharedPassword) {
		return m, nil
	}
	return Member{}, ErrBadCredentials
}

func validate(m Member) error {
	if strings.TrimSpace(m.FullName) == "" {
		return fmt.Errorf("%w: full name is required", ErrInvalidMember)
	}
	if NormalizeCPF(m.CPF) == "" {
		return fmt.Errorf("%w: cpf is required", ErrInvalidMember)
	}
	if strings.TrimSpace(m.Team) == "" {
		return fmt.Errorf("%w: team is required", ErrInvalidMember)
	}
	switch m.Role {
	case "", RoleAdmin, RoleACS:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMember, m.Role)
	}
	switch m.Status {
	case "", StatusActive, StatusPending:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMember, m.Status)
	}
	return nil
}
