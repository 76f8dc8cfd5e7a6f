package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ecanhq/agentcore/internal/embedding"
	"github.com/ecanhq/agentcore/internal/episodic"
	"github.com/ecanhq/agentcore/internal/manager"
	"github.com/ecanhq/agentcore/internal/memory"
	"github.com/ecanhq/agentcore/internal/reflection"
	"github.com/ecanhq/agentcore/internal/vector"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	opener := func(emb embedding.Embedder) (vector.Factory, error) {
		return vector.NewSQLiteFactory(":memory:", emb)
	}
	mgr, err := manager.New("agent-1", embedding.Config{Provider: "fake"}, opener, manager.Options{})
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	t.Cleanup(func() { mgr.Stop(context.Background()) })

	store, err := episodic.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("episodic.NewStore: %v", err)
	}

	return Deps{
		Manager:  mgr,
		Episodic: store,
		Reflect:  reflection.NewEngine(store, nil, "agent-1"),
		Token:    "secret",
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzSkipsAuth(t *testing.T) {
	h := NewHandler(newTestDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	if rec := doRequest(t, h, http.MethodGet, "/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/status", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/status", "secret", ""); rec.Code != http.StatusOK {
		t.Fatalf("good token = %d, want 200", rec.Code)
	}
}

func TestRetrieveEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	deps.Manager.Put(memory.MemoryItem{
		Namespace: memory.NS("agent-1", "semantic"),
		Text:      "shop checkout requires login",
	})
	deps.Manager.Flush(context.Background())

	rec := doRequest(t, h, http.MethodPost, "/memory/retrieve", "secret",
		`{"namespace":["agent-1","semantic"],"query":"checkout login","k":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("retrieve = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []memory.RetrievedMemory `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %+v", resp.Results)
	}
}

func TestRetrieveRequiresQuery(t *testing.T) {
	h := NewHandler(newTestDeps(t))
	rec := doRequest(t, h, http.MethodPost, "/memory/retrieve", "secret", `{"k":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing query = %d, want 400", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	ok := true
	sess := &memory.SessionRecord{
		SessionID: "s1",
		AgentID:   "agent-1",
		StartTime: time.Now().UTC(),
		Success:   &ok,
	}
	if _, err := deps.Episodic.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/memory/stats", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	var stats episodic.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalSessions != 1 || stats.Successful != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	if rec := doRequest(t, h, http.MethodGet, "/memory/stats?date=nonsense", "secret", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date = %d, want 400", rec.Code)
	}
}

func TestReflectEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	date := "2024-12-14"
	day, _ := time.Parse("2006-01-02", date)
	ok := true
	if _, err := deps.Episodic.SaveSession(&memory.SessionRecord{
		SessionID: "s1",
		AgentID:   "agent-1",
		StartTime: day.Add(10 * time.Hour),
		Success:   &ok,
	}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	rec := doRequest(t, h, http.MethodPost, "/reflect", "secret",
		`{"date":"2024-12-14"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reflect = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Reflection *memory.DailyReflection `json:"reflection"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Reflection == nil || resp.Reflection.TotalSessions != 1 {
		t.Fatalf("reflection = %+v", resp.Reflection)
	}
}

func TestStatusEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	deps.Driver = &mockDriver{state: "ready"}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/status", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if resp["driver_state"] != "ready" {
		t.Fatalf("driver_state = %v", resp["driver_state"])
	}
}
