package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"acsmulungu.org/internal/access"
	"acsmulungu.org/internal/audit"
	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/obs"
	"acsmulungu.org/internal/presence"
	"acsmulungu.org/internal/stream"
	"acsmulungu.org/internal/treasury"
)

// ReadyProbe checks the backing store, e.g. a DB ping.
type ReadyProbe struct {
	DB   *sql.DB
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping != nil {
		return rp.Ping(ctx)
	}
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the portal services the API exposes.
type Deps struct {
	Directory *member.Directory
	Presence  *presence.Tracker
	Access    *access.Counter
	Scores    *indicator.Engine
	Treasury  *treasury.Service
	Stream    *stream.Stream
	Roster    []string

	SharedPassword string
	TokenTTL       time.Duration
	Now            func() time.Time
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	directory *member.Directory
	presence  *presence.Tracker
	access    *access.Counter
	scores    *indicator.Engine
	treasury  *treasury.Service
	stream    *stream.Stream
	roster    []string

	sharedPassword string
	tokenTTL       time.Duration
	now            func() time.Time

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	a := &API{
		mux:            http.NewServeMux(),
		readyProbe:     rp,
		version:        version,
		directory:      deps.Directory,
		presence:       deps.Presence,
		access:         deps.Access,
		scores:         deps.Scores,
		treasury:       deps.Treasury,
		stream:         deps.Stream,
		roster:         deps.Roster,
		sharedPassword: deps.SharedPassword,
		tokenTTL:       deps.TokenTTL,
		now:            now,
		rateBurst:      20,
		ratePerSec:     10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// login
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)

	// member directory
	a.mux.HandleFunc("/v1/members", a.handleMembersCollection)
	a.mux.HandleFunc("/v1/members/", a.handleMemberResource)

	// presence + access accounting
	a.mux.HandleFunc("/v1/presence/heartbeat", a.handleHeartbeat)
	a.mux.HandleFunc("/v1/presence/offline", a.handleOffline)
	a.mux.HandleFunc("/v1/presence/online", a.handleOnline)
	a.mux.HandleFunc("/v1/stats", a.handleStats)

	// indicator scores + leaderboard
	a.mux.HandleFunc("/v1/teams/scores", a.handleTeamScoresCollection)
	a.mux.HandleFunc("/v1/teams/", a.handleTeamResource)
	a.mux.HandleFunc("/v1/ranking", a.handleRanking)
	a.mux.HandleFunc("/v1/ranking/stream", a.RankingStream)

	// treasury
	a.mux.HandleFunc("/v1/treasury/summary", a.handleTreasurySummary)
	a.mux.HandleFunc("/v1/treasury/history", a.handleTreasuryHistory)
	a.mux.HandleFunc("/v1/treasury/history/", a.handleTreasuryHistoryResource)

	// admin maintenance
	a.mux.HandleFunc("/v1/admin/reset", a.handleAdminReset)

	// realtime change feed
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the default per-IP limiter settings.
func (a *API) SetRateLimit(burst, perSec int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSec > 0 {
		a.ratePerSec = perSec
	}
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = Logging(h)
	h = RequestID(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "acs-portal-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "acs-portal-api",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
		"roster":  a.roster,
	})
}

func (a *API) audit(ctx context.Context, event, entity, id string, meta map[string]string) {
	fields := map[string]any{
		"entity":    entity,
		"entity_id": id,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

func (a *API) publish(kind, id, action string) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.ChangeEvent{
		Kind:      kind,
		ID:        id,
		Action:    action,
		Timestamp: a.now().UTC(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps sentinel errors from the portal services onto HTTP
// status codes.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, member.ErrBadCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, member.ErrNotFound),
		errors.Is(err, indicator.ErrNotFound),
		errors.Is(err, treasury.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, member.ErrInvalidMember),
		errors.Is(err, indicator.ErrInvalidScore),
		errors.Is(err, indicator.ErrInvalidCategory),
		errors.Is(err, indicator.ErrInvalidPeriod),
		errors.Is(err, indicator.ErrUnknownTeam),
		errors.Is(err, treasury.ErrInvalidBalance):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
