// Package ranking projects team score records into the portal leaderboard.
// It keeps no state of its own: callers recompute whenever the underlying
// collection changes.
package ranking

import (
	"sort"
	"strings"
	"time"

	"acsmulungu.org/internal/indicator"
)

// PodiumSize is how many leading positions carry a podium marker.
const PodiumSize = 3

// Entry is one leaderboard row.
type Entry struct {
	Team       string    `json:"team"`
	TotalScore float64   `json:"total_score"`
	Rank       int       `json:"rank"`
	Podium     bool      `json:"podium"`
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// Leaderboard is the full projection with its computation time.
type Leaderboard struct {
	Entries []Entry   `json:"entries"`
	AsOf    time.Time `json:"as_of"`
}

// latestScore picks the score for one category: the latest reporting period
// with a populated value, falling back to earlier periods, else zero.
func latestScore(rec indicator.TeamScore, cat indicator.Category) float64 {
	for p := indicator.Period(indicator.PeriodCount); p >= indicator.Period1; p-- {
		if cell := rec.Cell(cat, p); cell.Set {
			return cell.Score
		}
	}
	return 0
}

// TotalScore sums the latest populated score of each category for one record.
func TotalScore(rec indicator.TeamScore) float64 {
	var total float64
	for _, cat := range indicator.Categories {
		total += latestScore(rec, cat)
	}
	return total
}

// Compute builds the leaderboard over records. Roster teams without a record
// appear with a zero total. Input order is roster order followed by any
// record teams missing from the roster; ties keep that order (stable sort,
// no secondary tie-break). Exactly the first PodiumSize positions are marked.
func Compute(records []indicator.TeamScore, roster []string, asOf time.Time) Leaderboard {
	byTeam := make(map[string]indicator.TeamScore, len(records))
	for _, rec := range records {
		byTeam[normalize(rec.Team)] = rec
	}

	var entries []Entry
	seen := make(map[string]bool, len(roster))
	for _, team := range roster {
		key := normalize(team)
		seen[key] = true
		rec, ok := byTeam[key]
		if !ok {
			entries = append(entries, Entry{Team: team})
			continue
		}
		entries = append(entries, Entry{
			Team:       team,
			TotalScore: TotalScore(rec),
			LastUpdate: rec.LastUpdate,
		})
	}
	for _, rec := range records {
		if seen[normalize(rec.Team)] {
			continue
		}
		entries = append(entries, Entry{
			Team:       rec.Team,
			TotalScore: TotalScore(rec),
			LastUpdate: rec.LastUpdate,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalScore > entries[j].TotalScore
	})
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Podium = i < PodiumSize
	}
	return Leaderboard{Entries: entries, AsOf: asOf}
}

func normalize(team string) string {
	return strings.ToLower(strings.TrimSpace(team))
}
