package httpapi

import (
	"net/http"
	"strings"
	"time"

	"acsmulungu.org/internal/auth"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/obs"
	"acsmulungu.org/internal/presence"
	"acsmulungu.org/internal/stream"
)

type memberRequest struct {
	FullName     string `json:"full_name"`
	CPF          string `json:"cpf"`
	CNS          string `json:"cns"`
	BirthDate    string `json:"birth_date"`
	Password     string `json:"password"`
	Gender       string `json:"gender"`
	Workplace    string `json:"workplace"`
	MicroArea    string `json:"micro_area"`
	Team         string `json:"team"`
	AreaType     string `json:"area_type"`
	ProfileImage string `json:"profile_image"`
	Status       string `json:"status"`
	Role         string `json:"role"`
}

func (req memberRequest) toMember(id string) member.Member {
	return member.Member{
		ID:           id,
		FullName:     req.FullName,
		CPF:          req.CPF,
		CNS:          req.CNS,
		BirthDate:    req.BirthDate,
		Password:     req.Password,
		Gender:       req.Gender,
		Workplace:    req.Workplace,
		MicroArea:    req.MicroArea,
		Team:         req.Team,
		AreaType:     req.AreaType,
		ProfileImage: req.ProfileImage,
		Status:       req.Status,
		Role:         req.Role,
	}
}

// memberView mirrors the stored record plus the derived presence status so
// display surfaces never have to re-derive it inconsistently.
type memberView struct {
	member.Member
	TrulyOnline bool `json:"truly_online"`
}

func (a *API) view(m member.Member) memberView {
	return memberView{Member: m, TrulyOnline: presence.IsTrulyOnline(m, a.now().UTC())}
}

func (a *API) handleMembersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listMembers(w, r)
	case http.MethodPost:
		a.createMember(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMemberResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/members/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getMember(w, r, id)
	case http.MethodPut:
		a.updateMember(w, r, id)
	case http.MethodDelete:
		a.deleteMember(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.directory.List(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]memberView, 0, len(members))
	for _, m := range members {
		views = append(views, a.view(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": views,
		"as_of": a.now().UTC(),
	})
}

func (a *API) getMember(w http.ResponseWriter, r *http.Request, id string) {
	m, err := a.directory.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(m))
}

func (a *API) createMember(w http.ResponseWriter, r *http.Request) {
	if !auth.HasRole(r.Context(), member.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.directory.Create(r.Context(), req.toMember(""))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.member.create", "member", m.ID, nil)
	a.publish(stream.KindMember, m.ID, "save")
	w.Header().Set("Location", "/v1/members/"+m.ID)
	writeJSON(w, http.StatusCreated, a.view(m))
}

func (a *API) updateMember(w http.ResponseWriter, r *http.Request, id string) {
	// Members may edit their own profile; everyone else's requires admin.
	if selfID, _ := auth.MemberIDFromContext(r.Context()); selfID != id && !auth.HasRole(r.Context(), member.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	var req memberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m, err := a.directory.Save(r.Context(), req.toMember(id))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.member.update", "member", m.ID, nil)
	a.publish(stream.KindMember, m.ID, "save")
	writeJSON(w, http.StatusOK, a.view(m))
}

func (a *API) deleteMember(w http.ResponseWriter, r *http.Request, id string) {
	if !auth.HasRole(r.Context(), member.RoleAdmin) {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	if err := a.directory.Delete(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.member.delete", "member", id, nil)
	a.publish(stream.KindMember, id, "delete")
	w.WriteHeader(http.StatusNoContent)
}

// --- presence ---

// handleHeartbeat refreshes the caller's liveness. Clients call it on login
// and then every minute while the session is active; a failed tick is not
// retried here because the next one self-heals.
func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.MemberIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.presence.Heartbeat(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	obs.CountHeartbeat()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"last_seen": a.now().UTC(),
	})
}

// handleOffline is the explicit logout signal. Best effort by design: an
// unclean disconnect never reaches it and the staleness window takes over.
func (a *API) handleOffline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := auth.MemberIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.presence.MarkOffline(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "offline"})
}

func (a *API) handleOnline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	members, err := a.directory.List(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	online := presence.OnlineMembers(members, a.now().UTC())
	views := make([]memberView, 0, len(online))
	for _, m := range online {
		views = append(views, memberView{Member: m, TrulyOnline: true})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(views),
		"items": views,
		"as_of": a.now().UTC(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	total, err := a.access.PortalVisits(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_count": total,
		"as_of":        a.now().UTC().Format(time.RFC3339),
	})
}
