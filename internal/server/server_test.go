package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ziadkadry99/menusql/internal/audit"
	"github.com/ziadkadry99/menusql/internal/classifier"
	"github.com/ziadkadry99/menusql/internal/conversation"
	"github.com/ziadkadry99/menusql/internal/db"
	"github.com/ziadkadry99/menusql/internal/history"
	"github.com/ziadkadry99/menusql/internal/llm/llmtest"
	"github.com/ziadkadry99/menusql/internal/pipeline"
	"github.com/ziadkadry99/menusql/internal/prompt"
	"github.com/ziadkadry99/menusql/internal/rules"
	"github.com/ziadkadry99/menusql/internal/sqlgen"
)

func newTestServer(t *testing.T, cfg Config, steps ...llmtest.Step) *Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "menu_inquiry"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "menu_inquiry", "rules.yaml"), []byte("active_only: disabled = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	hist := history.NewStore(database)

	p := pipeline.New(pipeline.Deps{
		Classifier: classifier.New(),
		Rules:      rules.NewStore(dir, time.Hour),
		Generator:  sqlgen.New(llmtest.New(steps...), prompt.New(prompt.Options{}), sqlgen.Config{MaxAttempts: 1}),
		Sessions:   conversation.NewSessions(8, time.Hour),
		History:    hist,
		Audit:      audit.NewStore(database),
	})
	return New(cfg, p, hist, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := do(t, srv, "GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, Config{AllowAll: true})

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestAsk(t *testing.T) {
	srv := newTestServer(t, Config{}, llmtest.Reply("```sql\nSELECT name FROM menu_items WHERE disabled = false;\n```"))

	w := do(t, srv, "POST", "/api/ask", `{"session_id":"s1","query":"What's our current active menu?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out pipeline.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Success || out.SQL != "SELECT name FROM menu_items WHERE disabled = false;" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.Classification.QueryType != "menu_inquiry" {
		t.Errorf("unexpected query type %q", out.Classification.QueryType)
	}

	hist := do(t, srv, "GET", "/api/history?session_id=s1", "")
	var entries []history.Entry
	if err := json.Unmarshal(hist.Body.Bytes(), &entries); err != nil || len(entries) != 1 {
		t.Errorf("expected one history entry, got %s (%v)", hist.Body.String(), err)
	}
}

func TestAskGeneratesSessionID(t *testing.T) {
	srv := newTestServer(t, Config{})
	w := do(t, srv, "POST", "/api/ask", `{"query":"How are we doing?"}`)
	var out pipeline.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if out.Clarification == "" {
		t.Error("expected a clarification for a vague question")
	}
}

func TestAskValidation(t *testing.T) {
	srv := newTestServer(t, Config{})
	for _, body := range []string{`not json`, `{"session_id":"s1"}`} {
		if w := do(t, srv, "POST", "/api/ask", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestClassify(t *testing.T) {
	srv := newTestServer(t, Config{})
	w := do(t, srv, "POST", "/api/classify", `{"query":"How are we doing?"}`)
	var res classifier.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.NeedsClarification || res.QueryType != "general" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestResetSession(t *testing.T) {
	srv := newTestServer(t, Config{}, llmtest.Reply("SELECT 1;"))
	do(t, srv, "POST", "/api/ask", `{"session_id":"s1","query":"show the active menu"}`)

	if w := do(t, srv, "DELETE", "/api/sessions/s1", ""); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := do(t, srv, "DELETE", "/api/sessions/s1", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a reset session, got %d", w.Code)
	}
}

func TestRulesEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := do(t, srv, "GET", "/api/rules/menu_inquiry", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rs rules.RuleSet
	if err := json.Unmarshal(w.Body.Bytes(), &rs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rs.Rules["active_only"] != "disabled = false" {
		t.Errorf("unexpected rules %v", rs.Rules)
	}

	if w := do(t, srv, "GET", "/api/rules/general", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for general, got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/rules/invalidate", `{"category":"menu_inquiry"}`); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/rules/invalidate", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "all") {
		t.Errorf("expected invalidate all, got %d %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "POST", "/api/rules/invalidate", `{"category":"nope"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, llmtest.Reply("SELECT 1;"))
	do(t, srv, "POST", "/api/ask", `{"session_id":"s1","query":"show the active menu"}`)

	w := do(t, srv, "GET", "/metrics", "")
	body := w.Body.String()
	for _, name := range []string{
		"menusql_sqlgen_api_calls_total 1",
		"menusql_sqlgen_successes_total 1",
		"menusql_http_requests_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %q in metrics output", name)
		}
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, Config{}, llmtest.Reply("SELECT 1;"))
	do(t, srv, "POST", "/api/ask", `{"session_id":"s1","query":"show the active menu"}`)

	w := do(t, srv, "GET", "/api/stats", "")
	var stats statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Generator.Successes != 1 || stats.Sessions != 1 || stats.RulesMisses != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	srv := newTestServer(t, Config{})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestAdminActionsAreAudited(t *testing.T) {
	srv := newTestServer(t, Config{}, llmtest.Reply("SELECT name FROM menu_items WHERE disabled = false;"))

	if w := do(t, srv, "POST", "/api/ask", `{"session_id":"s1","query":"What's our current active menu?"}`); w.Code != http.StatusOK {
		t.Fatalf("ask: %d", w.Code)
	}
	if w := do(t, srv, "DELETE", "/api/sessions/s1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("reset: %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/rules/invalidate", `{"category":"menu_inquiry"}`); w.Code != http.StatusOK {
		t.Fatalf("invalidate: %d", w.Code)
	}

	w := do(t, srv, "GET", "/api/audit/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", w.Code, w.Body.String())
	}
	var entries []audit.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	actions := map[audit.Action]bool{}
	for _, e := range entries {
		actions[e.Action] = true
	}
	if len(entries) != 2 || !actions[audit.ActionSessionReset] || !actions[audit.ActionRulesReloaded] {
		t.Errorf("unexpected audit entries %+v", entries)
	}
}
