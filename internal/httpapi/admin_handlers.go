package httpapi

import (
	"net/http"
	"strconv"

	"acsmulungu.org/internal/auth"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/stream"
)

// handleAdminReset wipes the portal back to a fresh state: every member
// except the caller is removed, the treasury history is emptied and the
// summary document returns to its defaults. Scores and the portal visit
// counter are left alone.
func (a *API) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ctx := r.Context()
	if !auth.HasRole(ctx, member.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	keepID, ok := auth.MemberIDFromContext(ctx)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	membersRemoved, err := a.directory.PurgeExcept(ctx, keepID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	sum, historyRemoved, err := a.treasury.Reset(ctx)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	a.audit(ctx, "admin.database.reset", "portal", keepID, map[string]string{
		"members_removed": strconv.FormatInt(membersRemoved, 10),
		"history_removed": strconv.FormatInt(historyRemoved, 10),
	})
	a.publish(stream.KindMember, "*", "reset")
	a.publish(stream.KindTreasury, "*", "reset")

	writeJSON(w, http.StatusOK, map[string]any{
		"members_removed": membersRemoved,
		"history_removed": historyRemoved,
		"summary":         sum,
	})
}
