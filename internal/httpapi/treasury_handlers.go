package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"acsmulungu.org/internal/auth"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/stream"
	"acsmulungu.org/internal/treasury"
)

func (a *API) handleTreasurySummary(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sum, err := a.treasury.Summary(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summaryView(sum))
	case http.MethodPut:
		if !auth.HasRole(r.Context(), member.RoleAdmin) {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		var req treasury.Summary
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		updatedBy := auth.NameFromContext(r.Context())
		sum, err := a.treasury.UpdateSummary(r.Context(), req, updatedBy)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "treasury.summary.update", "treasury", "summary", nil)
		a.publish(stream.KindTreasury, "summary", "save")
		writeJSON(w, http.StatusOK, summaryView(sum))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// summaryView adds the derived balance so clients never recompute it.
func summaryView(s treasury.Summary) map[string]any {
	return map[string]any{
		"summary": s,
		"balance": s.Balance(),
	}
}

func (a *API) handleTreasuryHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		year, err := yearParam(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		items, err := a.treasury.History(r.Context(), year)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"year":  year,
			"items": items,
		})
	case http.MethodPut, http.MethodPost:
		if !auth.HasRole(r.Context(), member.RoleAdmin) {
			writeError(w, r, http.StatusForbidden, "admin role required")
			return
		}
		var req treasury.MonthlyBalance
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		b, err := a.treasury.SaveMonthly(r.Context(), req)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "treasury.monthly.save", "treasury", b.ID, map[string]string{
			"year":  strconv.Itoa(b.Year),
			"month": strconv.Itoa(b.Month),
		})
		a.publish(stream.KindTreasury, b.ID, "save")
		writeJSON(w, http.StatusOK, b)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPost)
	}
}

func (a *API) handleTreasuryHistoryResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/treasury/history/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !auth.HasRole(r.Context(), member.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var req treasury.MonthlyBalance
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.ID = id
		b, err := a.treasury.SaveMonthly(r.Context(), req)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "treasury.monthly.save", "treasury", b.ID, map[string]string{
			"year":  strconv.Itoa(b.Year),
			"month": strconv.Itoa(b.Month),
		})
		a.publish(stream.KindTreasury, b.ID, "save")
		writeJSON(w, http.StatusOK, b)
	case http.MethodDelete:
		if err := a.treasury.DeleteMonthly(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		a.audit(r.Context(), "treasury.monthly.delete", "treasury", id, nil)
		a.publish(stream.KindTreasury, id, "delete")
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func yearParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("year"))
	if raw == "" {
		return 0, errParamYear
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year < 2000 || year > 2100 {
		return 0, errParamYear
	}
	return year, nil
}

var errParamYear = errors.New("year query parameter must be between 2000 and 2100")
