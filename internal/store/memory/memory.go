// Package memory implements every portal store interface in process. It
// backs the test suites and small single-node deployments; writes are
// serialised under one mutex, so the daily-rollover race documented on
// member.Store.ApplyVisit cannot occur here.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/treasury"
)

// Store is the in-memory backend.
type Store struct {
	mu           sync.RWMutex
	members      map[string]member.Member
	teams        map[string]indicator.TeamScore // keyed by lower-cased team name
	summary      *treasury.Summary
	monthly      map[string]treasury.MonthlyBalance
	portalVisits int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		members: make(map[string]member.Member),
		teams:   make(map[string]indicator.TeamScore),
		monthly: make(map[string]treasury.MonthlyBalance),
	}
}

var (
	_ member.Store      = (*Store)(nil)
	_ member.StatsStore = (*Store)(nil)
	_ indicator.Store   = (*Store)(nil)
	_ treasury.Store    = (*Store)(nil)
)

// --- member.Store ---

func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	return m, nil
}

func (s *Store) FindByCPF(ctx context.Context, cpf string) (member.Member, error) {
	cpf = member.NormalizeCPF(cpf)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if member.NormalizeCPF(m.CPF) == cpf {
			return m, nil
		}
	}
	return member.Member{}, member.ErrNotFound
}

func (s *Store) ListMembers(ctx context.Context) ([]member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]member.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RegistrationDate.After(out[j].RegistrationDate)
	})
	return out, nil
}

func (s *Store) PutMember(ctx context.Context, m member.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
	return nil
}

func (s *Store) DeleteMember(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; !ok {
		return member.ErrNotFound
	}
	delete(s.members, id)
	return nil
}

func (s *Store) DeleteMembersExcept(ctx context.Context, keepID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id := range s.members {
		if id == keepID {
			continue
		}
		delete(s.members, id)
		removed++
	}
	return removed, nil
}

func (s *Store) SetOnline(ctx context.Context, id string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return member.ErrNotFound
	}
	m.IsOnline = true
	m.LastSeen = seen
	s.members[id] = m
	return nil
}

func (s *Store) SetOffline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return member.ErrNotFound
	}
	m.IsOnline = false
	s.members[id] = m
	return nil
}

func (s *Store) ApplyVisit(ctx context.Context, id, today string, now time.Time) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	if m.LastDailyReset != today {
		m.DailyAccessCount = 1
		m.LastDailyReset = today
	} else {
		m.DailyAccessCount++
	}
	m.AccessCount++
	m.LastSeen = now
	s.members[id] = m
	return m, nil
}

// --- member.StatsStore ---

func (s *Store) IncrementPortalVisits(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portalVisits++
	return s.portalVisits, nil
}

func (s *Store) PortalVisits(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portalVisits, nil
}

// --- indicator.Store ---

func teamKey(team string) string { return strings.ToLower(strings.TrimSpace(team)) }

func (s *Store) GetTeamScore(ctx context.Context, team string) (indicator.TeamScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.teams[teamKey(team)]
	if !ok {
		return indicator.TeamScore{}, indicator.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) ListTeamScores(ctx context.Context) ([]indicator.TeamScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.teams))
	for k := range s.teams {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]indicator.TeamScore, 0, len(names))
	for _, k := range names {
		out = append(out, s.teams[k].Clone())
	}
	return out, nil
}

func (s *Store) UpsertCell(ctx context.Context, team string, category indicator.Category, period indicator.Period, cell indicator.Cell, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := teamKey(team)
	rec, ok := s.teams[key]
	if !ok {
		rec = indicator.NewTeamScore(team)
	}
	row := rec.Cells[category]
	if len(row) < indicator.PeriodCount {
		row = make([]indicator.Cell, indicator.PeriodCount)
		copy(row, rec.Cells[category])
	}
	row[period-1] = cell
	rec.Cells[category] = row
	rec.LastUpdate = updatedAt
	s.teams[key] = rec
	return nil
}

// --- treasury.Store ---

func (s *Store) GetSummary(ctx context.Context) (treasury.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return treasury.Summary{}, treasury.ErrNotFound
	}
	return *s.summary, nil
}

func (s *Store) PutSummary(ctx context.Context, sum treasury.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &sum
	return nil
}

func (s *Store) ListMonthly(ctx context.Context, year int) ([]treasury.MonthlyBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []treasury.MonthlyBalance
	for _, b := range s.monthly {
		if b.Year == year {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	return out, nil
}

func (s *Store) PutMonthly(ctx context.Context, b treasury.MonthlyBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monthly[b.ID] = b
	return nil
}

func (s *Store) DeleteMonthly(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monthly[id]; !ok {
		return treasury.ErrNotFound
	}
	delete(s.monthly, id)
	return nil
}

func (s *Store) DeleteAllMonthly(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := int64(len(s.monthly))
	s.monthly = make(map[string]treasury.MonthlyBalance)
	return removed, nil
}
