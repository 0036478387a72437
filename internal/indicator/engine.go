package indicator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Store persists team score records. UpsertCell merges a single
// (category, period) slot into the team's record without disturbing the
// others, creating the record when absent, and refreshes LastUpdate.
type Store interface {
	GetTeamScore(ctx context.Context, team string) (TeamScore, error)
	ListTeamScores(ctx context.Context) ([]TeamScore, error)
	UpsertCell(ctx context.Context, team string, category Category, period Period, cell Cell, updatedAt time.Time) error
}

// Engine validates and classifies admin score edits before they reach the
// store. Each call covers exactly one (team, category, period) tuple; an
// admin form that stages several edits submits them as separate calls.
type Engine struct {
	store  Store
	roster []string
	now    func() time.Time
}

// NewEngine builds an engine over store. An empty roster disables the
// roster check.
func NewEngine(store Store, roster []string, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, roster: roster, now: now}
}

// SetTeamScore classifies raw and persists the (score, class) pair for the
// tuple. Calling it twice with the same arguments leaves the stored pair
// unchanged and only refreshes LastUpdate.
func (e *Engine) SetTeamScore(ctx context.Context, team string, category Category, period Period, raw float64) (TeamScore, error) {
	team, ok := e.resolve(team)
	if !ok {
		return TeamScore{}, ErrUnknownTeam
	}
	if !category.Valid() {
		return TeamScore{}, ErrInvalidCategory
	}
	if !period.Valid() {
		return TeamScore{}, ErrInvalidPeriod
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return TeamScore{}, ErrInvalidScore
	}

	cell := Cell{Score: raw, Class: Classify(raw), Set: true}
	if err := e.store.UpsertCell(ctx, team, category, period, cell, e.now().UTC()); err != nil {
		return TeamScore{}, fmt.Errorf("persist score: %w", err)
	}
	return e.store.GetTeamScore(ctx, team)
}

// TeamScore returns the stored record for team.
func (e *Engine) TeamScore(ctx context.Context, team string) (TeamScore, error) {
	return e.store.GetTeamScore(ctx, strings.TrimSpace(team))
}

// AllTeamScores returns every stored record.
func (e *Engine) AllTeamScores(ctx context.Context) ([]TeamScore, error) {
	return e.store.ListTeamScores(ctx)
}

// Roster returns the configured team roster.
func (e *Engine) Roster() []string {
	out := make([]string, len(e.roster))
	copy(out, e.roster)
	return out
}

// resolve maps free-text input to the canonical roster spelling so records
// are keyed consistently.
func (e *Engine) resolve(team string) (string, bool) {
	team = strings.TrimSpace(team)
	if team == "" {
		return "", false
	}
	if len(e.roster) == 0 {
		return team, true
	}
	for _, t := range e.roster {
		if strings.EqualFold(t, team) {
			return t, true
		}
	}
	return "", false
}
