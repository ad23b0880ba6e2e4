package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agent-core/internal/agent"
	"agent-core/internal/condition"
	"agent-core/internal/events"
	"agent-core/internal/monitor"
	"agent-core/internal/queue"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	roster := agent.NewRoster(nil)
	if err := roster.Put(context.Background(), agent.Agent{
		ID:             "agent-1",
		Name:           "Test Agent",
		Instruments:    []string{"BTC"},
		MaxPositionUSD: 10000,
		Active:         true,
	}); err != nil {
		t.Fatalf("roster.Put: %v", err)
	}

	return NewServer(Config{
		Bus:         events.NewBus(),
		Registry:    condition.NewRegistry(nil),
		Queue:       queue.New(nil, 0, 0),
		Roster:      roster,
		Metrics:     monitor.NewSystemMetrics(),
		JWTSecret:   "test-secret",
		OperatorKey: "test-key",
	})
}

func doJSON(s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func operatorToken(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(s, http.MethodPost, "/api/auth/token", "", map[string]string{
		"operator": "ops",
		"key":      "test-key",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("token issue status=%d body=%s", w.Code, w.Body.String())
	}
	token, _ := decode(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("empty token")
	}
	return token
}

func TestIssueTokenRejectsBadKey(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodPost, "/api/auth/token", "", map[string]string{"key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected 401", w.Code)
	}

	// No configured key means the endpoint never issues tokens.
	s.OperatorKey = ""
	w = doJSON(s, http.MethodPost, "/api/auth/token", "", map[string]string{"key": ""})
	if w.Code != http.StatusBadRequest && w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, expected rejection", w.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodGet, "/api/actions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d without token, expected 401", w.Code)
	}

	w = doJSON(s, http.MethodGet, "/api/actions", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d with bogus token, expected 401", w.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, expected 200", w.Code)
	}
}

func TestActionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t, s)

	w := doJSON(s, http.MethodPost, "/api/actions", token, map[string]any{
		"owner_id": "agent-1",
		"kind":     "stop_loss",
		"condition": map[string]any{
			"field":      "price",
			"op":         "<=",
			"threshold":  85000,
			"instrument": "BTC",
		},
		"params":     map[string]any{"instrument": "BTC", "side": "sell"},
		"rationale":  "protect the long",
		"expires_in": "24h",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	created := decode(t, w)["action"].(map[string]any)
	id, _ := created["id"].(string)
	if id == "" || created["status"] != "pending" {
		t.Fatalf("created=%v", created)
	}

	w = doJSON(s, http.MethodGet, "/api/actions", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d", w.Code)
	}
	if got := decode(t, w)["count"].(float64); got != 1 {
		t.Fatalf("count=%v, expected 1", got)
	}

	w = doJSON(s, http.MethodGet, "/api/agents/agent-1/actions?status=pending", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner list status=%d", w.Code)
	}
	if got := decode(t, w)["count"].(float64); got != 1 {
		t.Fatalf("owner count=%v, expected 1", got)
	}

	w = doJSON(s, http.MethodDelete, "/api/actions/"+id, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status=%d body=%s", w.Code, w.Body.String())
	}

	// A second cancel conflicts with the terminal state.
	w = doJSON(s, http.MethodDelete, "/api/actions/"+id, token, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("re-cancel status=%d, expected 409", w.Code)
	}

	w = doJSON(s, http.MethodDelete, "/api/actions/nope", token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing cancel status=%d, expected 404", w.Code)
	}
}

func TestAddActionValidatesOwner(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t, s)

	w := doJSON(s, http.MethodPost, "/api/actions", token, map[string]any{
		"owner_id": "ghost",
		"kind":     "stop_loss",
		"condition": map[string]any{
			"field": "price", "op": "<=", "threshold": 85000, "instrument": "BTC",
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d for unknown owner, expected 400", w.Code)
	}
}

func TestEnqueueAndStats(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t, s)

	body := map[string]any{
		"owner_id":   "agent-1",
		"kind":       "market_order",
		"priority":   2,
		"instrument": "BTC",
		"side":       "buy",
		"size":       0.1,
	}
	w := doJSON(s, http.MethodPost, "/api/queue", token, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue status=%d body=%s", w.Code, w.Body.String())
	}

	// Same (owner, instrument, side, kind) intent conflicts.
	w = doJSON(s, http.MethodPost, "/api/queue", token, body)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate enqueue status=%d, expected 409", w.Code)
	}

	w = doJSON(s, http.MethodGet, "/api/queue/stats", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status=%d", w.Code)
	}
	stats := decode(t, w)["stats"].(map[string]any)
	if stats["total_actions"].(float64) != 1 {
		t.Fatalf("stats=%v", stats)
	}

	w = doJSON(s, http.MethodDelete, "/api/queue/agent-1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status=%d", w.Code)
	}
	if got := decode(t, w)["removed"].(float64); got != 1 {
		t.Fatalf("removed=%v, expected 1", got)
	}
}

func TestListAgentsHidesCredentials(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t, s)

	w := doJSON(s, http.MethodGet, "/api/agents", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("signer")) ||
		bytes.Contains(w.Body.Bytes(), []byte("account_key")) {
		t.Fatalf("agent listing leaks credentials: %s", w.Body.String())
	}
}

func TestExecutionsWithoutPersistence(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t, s)

	w := doJSON(s, http.MethodGet, "/api/executions", token, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, expected 503 with no store", w.Code)
	}
}
