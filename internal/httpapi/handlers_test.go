package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"acsmulungu.org/internal/access"
	"acsmulungu.org/internal/auth"
	"acsmulungu.org/internal/indicator"
	"acsmulungu.org/internal/member"
	"acsmulungu.org/internal/presence"
	memstore "acsmulungu.org/internal/store/memory"
	"acsmulungu.org/internal/stream"
	"acsmulungu.org/internal/treasury"
)

var testRoster = []string{"PSF CANUDOS", "PSF CAROLINA", "PSF VARZEA"}

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *memstore.Store
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("PORTAL_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	store := memstore.New()
	deps := Deps{
		Directory:      member.NewDirectory(store, nil),
		Presence:       presence.NewTracker(store, nil),
		Access:         access.NewCounter(store, store, nil),
		Scores:         indicator.NewEngine(store, testRoster, nil),
		Treasury:       treasury.NewService(store, nil),
		Stream:         stream.New(),
		Roster:         testRoster,
		SharedPassword: "1234",
		TokenTTL:       time.Hour,
	}
	api := New(ReadyProbe{}, "test", deps)
	api.SetRateLimit(1000, 1000)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) seedMember(id, name, cpf, role string) {
	c.t.Helper()
	err := c.store.PutMember(context.Background(), member.Member{
		ID:       id,
		FullName: name,
		CPF:      cpf,
		Team:     testRoster[0],
		Role:     role,
		Status:   member.StatusActive,
	})
	if err != nil {
		c.t.Fatalf("seed member: %v", err)
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) login(cpf, password string) loginResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/login", loginRequest{CPF: cpf, Password: password}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status = %d", resp.StatusCode)
	}
	return decode[loginResponse](c.t, resp)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndInfoArePublic(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/metrics"} {
		resp := c.get(path, nil, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/members", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d, want 401", resp.StatusCode)
	}

	resp = c.get("/v1/members", nil, "not-a-token")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}
}

func TestLoginFlow(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("m1", "Maria Silva", "11122233344", member.RoleACS)

	out := c.login("111.222.333-44", "1234")
	if out.Token == "" {
		t.Fatal("empty token issued")
	}
	if !out.Member.IsOnline {
		t.Fatal("member not online after login")
	}
	if out.Member.AccessCount != 1 || out.Member.DailyAccessCount != 1 {
		t.Fatalf("login counters = %d/%d, want 1/1", out.Member.AccessCount, out.Member.DailyAccessCount)
	}

	// Second login the same day bumps both counters.
	again := c.login("11122233344", "1234")
	if again.Member.AccessCount != 2 || again.Member.DailyAccessCount != 2 {
		t.Fatalf("second login counters = %d/%d, want 2/2", again.Member.AccessCount, again.Member.DailyAccessCount)
	}

	resp := c.do(http.MethodPost, "/v1/auth/login", loginRequest{CPF: "11122233344", Password: "wrong"}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", resp.StatusCode)
	}
}

func TestMemberCRUDRequiresAdmin(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("admin1", "Admin", "99988877766", member.RoleAdmin)
	c.seedMember("acs1", "Maria", "11122233344", member.RoleACS)

	adminToken := c.login("99988877766", "1234").Token
	acsToken := c.login("11122233344", "1234").Token

	newMember := memberRequest{
		FullName: "Joana Souza",
		CPF:      "22233344455",
		Team:     testRoster[1],
	}

	resp := c.do(http.MethodPost, "/v1/members", newMember, acsToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin create status = %d, want 403", resp.StatusCode)
	}

	resp = c.do(http.MethodPost, "/v1/members", newMember, adminToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	created := decode[memberView](t, resp)
	if created.ID == "" || created.Status != member.StatusPending {
		t.Fatalf("created member wrong: %+v", created.Member)
	}

	// Read back.
	resp = c.get("/v1/members/"+created.ID, nil, acsToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	got := decode[memberView](t, resp)
	if got.FullName != "Joana Souza" {
		t.Fatalf("got %+v", got.Member)
	}

	// Update by admin.
	updated := newMember
	updated.Workplace = "UBS Centro"
	resp = c.do(http.MethodPut, "/v1/members/"+created.ID, updated, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}
	if v := decode[memberView](t, resp); v.Workplace != "UBS Centro" {
		t.Fatalf("update not applied: %+v", v.Member)
	}

	// Delete.
	resp = c.do(http.MethodDelete, "/v1/members/"+created.ID, nil, acsToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin delete status = %d, want 403", resp.StatusCode)
	}
	resp = c.do(http.MethodDelete, "/v1/members/"+created.ID, nil, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp = c.get("/v1/members/"+created.ID, nil, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestMemberCanEditOwnProfile(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("acs1", "Maria", "11122233344", member.RoleACS)
	token := c.login("11122233344", "1234").Token

	payload := memberRequest{FullName: "Maria Silva", CPF: "11122233344", Team: testRoster[0]}
	resp := c.do(http.MethodPut, "/v1/members/acs1", payload, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("self edit status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	c.seedMember("acs2", "Ana", "55566677788", member.RoleACS)
	resp = c.do(http.MethodPut, "/v1/members/acs2", payload, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("editing someone else status = %d, want 403", resp.StatusCode)
	}
}

func TestPresenceEndpoints(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("m1", "Maria", "11122233344", member.RoleACS)
	token := c.login("11122233344", "1234").Token

	resp := c.do(http.MethodPost, "/v1/presence/heartbeat", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status = %d, want 200", resp.StatusCode)
	}

	resp = c.get("/v1/presence/online", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("online status = %d", resp.StatusCode)
	}
	online := decode[struct {
		Count int          `json:"count"`
		Items []memberView `json:"items"`
	}](t, resp)
	if online.Count != 1 || len(online.Items) != 1 || online.Items[0].ID != "m1" {
		t.Fatalf("online listing wrong: %+v", online)
	}

	resp = c.do(http.MethodPost, "/v1/presence/offline", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("offline status = %d", resp.StatusCode)
	}

	resp = c.get("/v1/presence/online", nil, token)
	after := decode[struct {
		Count int `json:"count"`
	}](t, resp)
	if after.Count != 0 {
		t.Fatalf("online count after logout = %d, want 0", after.Count)
	}
}

func TestStatsEndpoint(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("m1", "Maria", "11122233344", member.RoleACS)
	token := c.login("11122233344", "1234").Token
	c.login("11122233344", "1234")

	resp := c.get("/v1/stats", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	stats := decode[struct {
		AccessCount int64 `json:"access_count"`
	}](t, resp)
	if stats.AccessCount != 2 {
		t.Fatalf("portal access_count = %d, want 2", stats.AccessCount)
	}
}

func TestScoreUpdateAndRanking(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("admin1", "Admin", "99988877766", member.RoleAdmin)
	c.seedMember("acs1", "Maria", "11122233344", member.RoleACS)
	adminToken := c.login("99988877766", "1234").Token
	acsToken := c.login("11122233344", "1234").Token

	put := func(team string, cat string, period int, score float64) *http.Response {
		return c.do(http.MethodPut, "/v1/teams/"+url.PathEscape(team)+"/scores",
			scoreRequest{Category: cat, Period: period, Score: score}, adminToken)
	}

	resp := c.do(http.MethodPut, "/v1/teams/"+url.PathEscape("PSF CANUDOS")+"/scores",
		scoreRequest{Category: "aps", Period: 1, Score: 5}, acsToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin score status = %d, want 403", resp.StatusCode)
	}

	resp = put("PSF CANUDOS", "aps", 1, 9.0)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("score put status = %d", resp.StatusCode)
	}
	rec := decode[indicator.TeamScore](t, resp)
	if cell := rec.Cell(indicator.CategoryPrimaryCare, indicator.Period1); cell.Class != indicator.ClassGreat {
		t.Fatalf("cell = %+v, want Ótimo", cell)
	}

	if resp := put("PSF CAROLINA", "aps", 1, 6.0); resp.StatusCode != http.StatusOK {
		t.Fatalf("second put status = %d", resp.StatusCode)
	} else {
		resp.Body.Close()
	}

	// Invalid inputs map to 400.
	for _, bad := range []scoreRequest{
		{Category: "vision", Period: 1, Score: 5},
		{Category: "aps", Period: 0, Score: 5},
		{Category: "aps", Period: 4, Score: 5},
	} {
		resp := c.do(http.MethodPut, "/v1/teams/"+url.PathEscape("PSF CANUDOS")+"/scores", bad, adminToken)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("invalid %+v status = %d, want 400", bad, resp.StatusCode)
		}
	}

	resp = c.do(http.MethodPut, "/v1/teams/"+url.PathEscape("PSF NOWHERE")+"/scores",
		scoreRequest{Category: "aps", Period: 1, Score: 5}, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown team status = %d, want 400", resp.StatusCode)
	}

	resp = c.get("/v1/ranking", nil, acsToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ranking status = %d", resp.StatusCode)
	}
	board := decode[struct {
		Entries []struct {
			Team       string  `json:"team"`
			TotalScore float64 `json:"total_score"`
			Rank       int     `json:"rank"`
			Podium     bool    `json:"podium"`
		} `json:"entries"`
	}](t, resp)
	if len(board.Entries) != len(testRoster) {
		t.Fatalf("got %d entries, want %d", len(board.Entries), len(testRoster))
	}
	if board.Entries[0].Team != "PSF CANUDOS" || board.Entries[0].TotalScore != 9.0 || board.Entries[0].Rank != 1 {
		t.Fatalf("leader wrong: %+v", board.Entries[0])
	}
	if !board.Entries[0].Podium || !board.Entries[2].Podium {
		t.Fatalf("podium flags wrong: %+v", board.Entries)
	}
	if board.Entries[2].Team != "PSF VARZEA" || board.Entries[2].TotalScore != 0 {
		t.Fatalf("unscored roster team should trail with zero: %+v", board.Entries[2])
	}
}

func TestTreasuryEndpoints(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("admin1", "Admin", "99988877766", member.RoleAdmin)
	c.seedMember("acs1", "Maria", "11122233344", member.RoleACS)
	adminToken := c.login("99988877766", "1234").Token
	acsToken := c.login("11122233344", "1234").Token

	// First read seeds the default document.
	resp := c.get("/v1/treasury/summary", nil, acsToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	seeded := decode[struct {
		Summary treasury.Summary `json:"summary"`
	}](t, resp)
	if seeded.Summary.MonthlyFee != treasury.DefaultMonthlyFee {
		t.Fatalf("seeded fee = %v", seeded.Summary.MonthlyFee)
	}

	resp = c.do(http.MethodPut, "/v1/treasury/summary", treasury.Summary{TotalIn: 100, TotalOut: 40}, acsToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin summary update status = %d, want 403", resp.StatusCode)
	}

	resp = c.do(http.MethodPut, "/v1/treasury/summary", treasury.Summary{TotalIn: 100, TotalOut: 40, MonthlyFee: 20}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary update status = %d", resp.StatusCode)
	}
	updated := decode[struct {
		Summary treasury.Summary `json:"summary"`
		Balance float64          `json:"balance"`
	}](t, resp)
	if updated.Balance != 60 {
		t.Fatalf("balance = %v, want 60", updated.Balance)
	}
	if updated.Summary.UpdatedBy != "Admin" {
		t.Fatalf("UpdatedBy = %q, want the editor's name", updated.Summary.UpdatedBy)
	}

	// Monthly history.
	resp = c.do(http.MethodPut, "/v1/treasury/history", treasury.MonthlyBalance{Year: 2025, Month: 3, Income: 200, Expense: 50}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history put status = %d", resp.StatusCode)
	}
	saved := decode[treasury.MonthlyBalance](t, resp)
	if saved.ID == "" {
		t.Fatal("no id assigned")
	}

	resp = c.get("/v1/treasury/history", url.Values{"year": {"2025"}}, acsToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history get status = %d", resp.StatusCode)
	}
	hist := decode[struct {
		Items []treasury.MonthlyBalance `json:"items"`
	}](t, resp)
	if len(hist.Items) != 1 || hist.Items[0].Month != 3 {
		t.Fatalf("history = %+v", hist.Items)
	}

	resp = c.get("/v1/treasury/history", nil, acsToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing year status = %d, want 400", resp.StatusCode)
	}

	resp = c.do(http.MethodDelete, "/v1/treasury/history/"+saved.ID, nil, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("history delete status = %d", resp.StatusCode)
	}
	resp = c.do(http.MethodDelete, "/v1/treasury/history/"+saved.ID, nil, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("m1", "Maria", "11122233344", member.RoleACS)
	token := c.login("11122233344", "1234").Token

	resp := c.do(http.MethodDelete, "/v1/ranking", nil, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodGet {
		t.Fatalf("Allow = %q, want GET", allow)
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/auth/login", map[string]any{
		"cpf": "111", "password": "1234", "bogus": true,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminResetWipesPortal(t *testing.T) {
	c := newTestAPI(t)
	c.seedMember("admin1", "Admin", "99988877766", member.RoleAdmin)
	c.seedMember("acs1", "Maria", "11122233344", member.RoleACS)
	c.seedMember("acs2", "Joana", "22233344455", member.RoleACS)
	adminToken := c.login("99988877766", "1234").Token
	acsToken := c.login("11122233344", "1234").Token

	// A dirty treasury to reset.
	resp := c.do(http.MethodPut, "/v1/treasury/summary",
		treasury.Summary{TotalIn: 500, TotalOut: 120, MonthlyFee: 25}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update summary status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = c.do(http.MethodPut, "/v1/treasury/history",
		treasury.MonthlyBalance{Year: 2025, Month: 3, Income: 100}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save monthly status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/admin/reset", nil, acsToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin reset status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/admin/reset", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	result := decode[struct {
		MembersRemoved int64            `json:"members_removed"`
		HistoryRemoved int64            `json:"history_removed"`
		Summary        treasury.Summary `json:"summary"`
	}](t, resp)
	if result.MembersRemoved != 2 {
		t.Fatalf("members_removed = %d, want 2", result.MembersRemoved)
	}
	if result.HistoryRemoved != 1 {
		t.Fatalf("history_removed = %d, want 1", result.HistoryRemoved)
	}
	if result.Summary.TotalIn != 0 || result.Summary.MonthlyFee != treasury.DefaultMonthlyFee {
		t.Fatalf("summary not reset: %+v", result.Summary)
	}
	if result.Summary.UpdatedBy != "Sistema (Reset)" {
		t.Fatalf("UpdatedBy = %q, want Sistema (Reset)", result.Summary.UpdatedBy)
	}

	// Only the acting admin survives.
	resp = c.get("/v1/members", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list members status = %d", resp.StatusCode)
	}
	list := decode[struct {
		Items []memberView `json:"items"`
	}](t, resp)
	if len(list.Items) != 1 || list.Items[0].ID != "admin1" {
		t.Fatalf("members after reset = %+v, want only admin1", list.Items)
	}

	resp = c.get("/v1/treasury/history", url.Values{"year": {"2025"}}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	hist := decode[struct {
		Items []treasury.MonthlyBalance `json:"items"`
	}](t, resp)
	if len(hist.Items) != 0 {
		t.Fatalf("history after reset = %+v, want empty", hist.Items)
	}
}
