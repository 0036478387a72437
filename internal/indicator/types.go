package indicator

import (
	"errors"
	"time"
)

// Category is one of the three indicator families scored per team.
type Category string

const (
	// CategoryPrimaryCare covers the APS (primary care) quality indicators.
	CategoryPrimaryCare Category = "aps"
	// CategoryOralHealth covers the dental quality indicators.
	CategoryOralHealth Category = "dental"
	// CategoryLinkage covers the territorial-linkage indicators.
	CategoryLinkage Category = "linkage"
)

// Categories lists the scored families in display order.
var Categories = []Category{CategoryPrimaryCare, CategoryOralHealth, CategoryLinkage}

func (c Category) Valid() bool {
	switch c {
	case CategoryPrimaryCare, CategoryOralHealth, CategoryLinkage:
		return true
	}
	return false
}

// Period is one of up to three sequential reporting windows per year.
type Period int

const (
	Period1 Period = 1
	Period2 Period = 2
	Period3 Period = 3

	// PeriodCount is the number of reporting windows per year.
	PeriodCount = 3
)

func (p Period) Valid() bool { return p >= Period1 && p <= Period3 }

// Cell is one scored (category, period) slot of a team record. Class is
// always the classification of Score; a cell with Set=false has never been
// scored.
type Cell struct {
	Score float64 `json:"score"`
	Class Class   `json:"class"`
	Set   bool    `json:"set"`
}

// TeamScore is the persisted per-team score record. Cells holds one entry
// per scored (category, period) pair; unscored pairs are absent.
type TeamScore struct {
	Team       string              `json:"team"`
	Cells      map[Category][]Cell `json:"cells"` // PeriodCount entries per category
	LastUpdate time.Time           `json:"last_update"`
}

// NewTeamScore returns an empty record for the given team with all cells
// unset.
func NewTeamScore(team string) TeamScore {
	cells := make(map[Category][]Cell, len(Categories))
	for _, c := range Categories {
		cells[c] = make([]Cell, PeriodCount)
	}
	return TeamScore{Team: team, Cells: cells}
}

// Cell returns the slot for (category, period); the zero Cell when the record
// never stored that pair.
func (t TeamScore) Cell(c Category, p Period) Cell {
	row, ok := t.Cells[c]
	if !ok || !p.Valid() || int(p) > len(row) {
		return Cell{}
	}
	return row[p-1]
}

// Clone returns a deep copy so callers can hand records out without sharing
// cell slices.
func (t TeamScore) Clone() TeamScore {
	out := t
	out.Cells = make(map[Category][]Cell, len(t.Cells))
	for c, row := range t.Cells {
		cp := make([]Cell, len(row))
		copy(cp, row)
		out.Cells[c] = cp
	}
	return out
}

var (
	ErrNotFound        = errors.New("team record not found")
	ErrInvalidScore    = errors.New("score must be a finite number")
	ErrInvalidCategory = errors.New("unknown indicator category")
	ErrInvalidPeriod   = errors.New("reporting period out of range")
	ErrUnknownTeam     = errors.New("team is not on the roster")
)
