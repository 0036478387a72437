package httpapi

import (
	"net/http"
	"time"

	"acsmulungu.org/internal/auth"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/obs"
)

type loginRequest struct {
	CPF      string `json:"cpf"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Member    member.Member `json:"member"`
}

// handleLogin resolves the credentials, records the visit (once per
// successful login, not per page view) and marks the member online.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	m, err := a.directory.Authenticate(r.Context(), req.CPF, req.Password, a.sharedPassword)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if m, err = a.access.RecordVisit(r.Context(), m.ID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.CountVisit()

	if err := a.presence.Heartbeat(r.Context(), m.ID); err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.CountHeartbeat()
	m.IsOnline = true

	token, err := auth.GenerateToken(m.ID, m.FullName, []string{m.Role}, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.audit(r.Context(), "portal.login", "member", m.ID, map[string]string{
		"role": m.Role,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: a.now().UTC().Add(a.tokenTTL),
		Member:    m,
	})
}
