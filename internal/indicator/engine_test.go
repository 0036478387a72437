package indicator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type fakeStore struct {
	records map[string]TeamScore
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]TeamScore)}
}

func (f *fakeStore) GetTeamScore(_ context.Context, team string) (TeamScore, error) {
	rec, ok := f.records[team]
	if !ok {
		return TeamScore{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeStore) ListTeamScores(_ context.Context) ([]TeamScore, error) {
	out := make([]TeamScore, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (f *fakeStore) UpsertCell(_ context.Context, team string, category Category, period Period, cell Cell, updatedAt time.Time) error {
	rec, ok := f.records[team]
	if !ok {
		rec = NewTeamScore(team)
	}
	rec.Cells[category][period-1] = cell
	rec.LastUpdate = updatedAt
	f.records[team] = rec
	return nil
}

var testRoster = []string{"PSF CANUDOS", "PSF CAROLINA"}

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func TestSetTeamScoreStoresClassifiedCell(t *testing.T) {
	store := newFakeStore()
	eng := NewEngine(store, testRoster, fixedNow)

	rec, err := eng.SetTeamScore(context.Background(), "PSF CANUDOS", CategoryPrimaryCare, Period1, 7.2)
	if err != nil {
		t.Fatalf("SetTeamScore: %v", err)
	}
	cell := rec.Cell(CategoryPrimaryCare, Period1)
	if !cell.Set {
		t.Fatal("cell was not marked set")
	}
	if cell.Score != 7.2 || cell.Class != ClassGood {
		t.Fatalf("got cell %+v, want score 7.2 class Bom", cell)
	}
	if !rec.LastUpdate.Equal(fixedNow()) {
		t.Fatalf("LastUpdate = %v, want %v", rec.LastUpdate, fixedNow())
	}
}

func TestSetTeamScoreIdempotent(t *testing.T) {
	store := newFakeStore()
	now := fixedNow()
	eng := NewEngine(store, testRoster, func() time.Time { return now })

	first, err := eng.SetTeamScore(context.Background(), "PSF CANUDOS", CategoryOralHealth, Period2, 9.1)
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	now = now.Add(10 * time.Minute)
	rec, err := eng.SetTeamScore(context.Background(), "PSF CANUDOS", CategoryOralHealth, Period2, 9.1)
	if err != nil {
		t.Fatalf("second set: %v", err)
	}
	cell := rec.Cell(CategoryOralHealth, Period2)
	if cell != first.Cell(CategoryOralHealth, Period2) {
		t.Fatalf("repeated set changed the cell: %+v", cell)
	}
	if cell.Score != 9.1 || cell.Class != ClassGreat {
		t.Fatalf("got cell %+v, want score 9.1 class Ótimo", cell)
	}
	if !rec.LastUpdate.Equal(fixedNow().Add(10 * time.Minute)) {
		t.Fatalf("LastUpdate = %v, want it refreshed by the second set", rec.LastUpdate)
	}
}

func TestSetTeamScoreMergesCells(t *testing.T) {
	store := newFakeStore()
	eng := NewEngine(store, testRoster, fixedNow)

	if _, err := eng.SetTeamScore(context.Background(), "PSF CANUDOS", CategoryPrimaryCare, Period1, 6.0); err != nil {
		t.Fatalf("set aps: %v", err)
	}
	rec, err := eng.SetTeamScore(context.Background(), "PSF CANUDOS", CategoryLinkage, Period3, 4.0)
	if err != nil {
		t.Fatalf("set linkage: %v", err)
	}
	if got := rec.Cell(CategoryPrimaryCare, Period1); !got.Set || got.Score != 6.0 {
		t.Fatalf("earlier cell was disturbed: %+v", got)
	}
	if got := rec.Cell(CategoryLinkage, Period3); !got.Set || got.Class != ClassRegular {
		t.Fatalf("new cell wrong: %+v", got)
	}
}

func TestSetTeamScoreCanonicalisesTeam(t *testing.T) {
	store := newFakeStore()
	eng := NewEngine(store, testRoster, fixedNow)

	rec, err := eng.SetTeamScore(context.Background(), "  psf canudos ", CategoryPrimaryCare, Period1, 5.5)
	if err != nil {
		t.Fatalf("SetTeamScore: %v", err)
	}
	if rec.Team != "PSF CANUDOS" {
		t.Fatalf("record keyed by %q, want roster spelling", rec.Team)
	}
}

func TestSetTeamScoreRejectsInvalidInput(t *testing.T) {
	store := newFakeStore()
	eng := NewEngine(store, testRoster, fixedNow)
	ctx := context.Background()

	cases := []struct {
		name     string
		team     string
		category Category
		period   Period
		score    float64
		want     error
	}{
		{"unknown team", "PSF NOWHERE", CategoryPrimaryCare, Period1, 5, ErrUnknownTeam},
		{"empty team", "   ", CategoryPrimaryCare, Period1, 5, ErrUnknownTeam},
		{"bad category", "PSF CANUDOS", Category("vision"), Period1, 5, ErrInvalidCategory},
		{"period zero", "PSF CANUDOS", CategoryPrimaryCare, 0, 5, ErrInvalidPeriod},
		{"period four", "PSF CANUDOS", CategoryPrimaryCare, 4, 5, ErrInvalidPeriod},
		{"nan", "PSF CANUDOS", CategoryPrimaryCare, Period1, math.NaN(), ErrInvalidScore},
		{"inf", "PSF CANUDOS", CategoryPrimaryCare, Period1, math.Inf(1), ErrInvalidScore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.SetTeamScore(ctx, tc.team, tc.category, tc.period, tc.score); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
	if len(store.records) != 0 {
		t.Fatalf("rejected input reached the store: %v", store.records)
	}
}

func TestEmptyRosterDisablesCheck(t *testing.T) {
	store := newFakeStore()
	eng := NewEngine(store, nil, fixedNow)

	if _, err := eng.SetTeamScore(context.Background(), "ANY TEAM", CategoryPrimaryCare, Period1, 5); err != nil {
		t.Fatalf("SetTeamScore with open roster: %v", err)
	}
}
