package httpapi

import (
	"net/http"
	"strings"

	"acsmulungu.org/internal/auth"
	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/obs"
	"acsmulungu.org/internal/ranking"
	"acsmulungu.org/internal/stream"
)

type scoreRequest struct {
	Category string  `json:"category"`
	Period   int     `json:"period"`
	Score    float64 `json:"score"`
}

func (a *API) handleTeamScoresCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	records, err := a.scores.AllTeamScores(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"as_of": a.now().UTC(),
	})
}

// handleTeamResource serves /v1/teams/{team}/scores. The team segment is the
// roster spelling; lookups are case-insensitive.
func (a *API) handleTeamResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/teams/")
	team, sub, ok := strings.Cut(rest, "/")
	if !ok || team == "" || sub != "scores" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getTeamScores(w, r, team)
	case http.MethodPut:
		a.putTeamScore(w, r, team)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) getTeamScores(w http.ResponseWriter, r *http.Request, team string) {
	rec, err := a.scores.TeamScore(r.Context(), team)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) putTeamScore(w http.ResponseWriter, r *http.Request, team string) {
	if !auth.HasRole(r.Context(), member.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req scoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.scores.SetTeamScore(r.Context(), team,
		indicator.Category(strings.ToLower(strings.TrimSpace(req.Category))),
		indicator.Period(req.Period), req.Score)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.CountScoreUpdate()
	a.audit(r.Context(), "indicator.score.set", "team", rec.Team, map[string]string{
		"category": req.Category,
	})
	a.publish(stream.KindTeam, rec.Team, "save")
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleRanking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	board, err := a.leaderboard(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// leaderboard recomputes the ranking from a fresh collection read.
func (a *API) leaderboard(r *http.Request) (ranking.Leaderboard, error) {
	records, err := a.scores.AllTeamScores(r.Context())
	if err != nil {
		return ranking.Leaderboard{}, err
	}
	obs.CountRankingRecompute()
	return ranking.Compute(records, a.roster, a.now().UTC()), nil
}
