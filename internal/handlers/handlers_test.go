package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"assistgate/internal/cache"
	"assistgate/internal/llm"
	"assistgate/internal/middleware"
	"assistgate/internal/orchestrator"
	"assistgate/internal/session"
	"assistgate/pkg/logging/logging"
)

type mockComputer struct {
	out   string
	err   error
	calls int
}

func (m *mockComputer) Compute(ctx context.Context, prompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.out, nil
}

func newTestRouter(t *testing.T, computer orchestrator.Computer) (*chi.Mux, *session.Store) {
	t.Helper()

	store, err := session.NewStore(session.Config{MaxSessions: 2})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	qc, err := cache.NewMemoryQueryCache(time.Minute, 10)
	if err != nil {
		t.Fatalf("NewMemoryQueryCache: %v", err)
	}
	o := orchestrator.New(store, qc, computer, "vtest")

	logger := zaptest.NewLogger(t)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logging.WithLogger(req.Context(), logger)))
		})
	})

	rh := NewRequestHandler(o)
	sh := NewSessionHandler(store)
	r.Post("/v1/requests", rh.Process)
	r.Get("/v1/stats", Stats(o))
	r.Post("/v1/sessions", sh.Create)
	r.Get("/v1/sessions", sh.List)
	r.Delete("/v1/sessions", sh.Clear)
	r.Get("/v1/sessions/{userID}", sh.Get)
	r.Patch("/v1/sessions/{userID}", sh.Update)
	r.Delete("/v1/sessions/{userID}", sh.Remove)
	return r, store
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestProcessCachedRequest(t *testing.T) {
	fake := &mockComputer{out: "hello!"}
	r, store := newTestRouter(t, fake)

	body := `{"action":"cached-compute","prompt":"hi"}`
	for i := 0; i < 2; i++ {
		rr := do(t, r, http.MethodPost, "/v1/requests", body, middleware.UserIDHeader, "user-42")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp orchestrator.Response
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Output != "hello!" {
			t.Fatalf("unexpected output: %q", resp.Output)
		}
		if resp.Cached != (i == 1) {
			t.Fatalf("request %d: unexpected cached=%v", i, resp.Cached)
		}
	}

	if fake.calls != 1 {
		t.Fatalf("expected one compute call, got %d", fake.calls)
	}

	s, err := store.Get("user-42")
	if err != nil {
		t.Fatalf("expected session for header user id: %v", err)
	}
	if s.Context["last_response"] != "hello!" {
		t.Fatalf("unexpected session context: %#v", s.Context)
	}
}

func TestProcessErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{"unknown action", nil, `{"action":"translate","prompt":"x"}`, http.StatusBadRequest},
		{"empty prompt", nil, `{"action":"direct-compute","prompt":""}`, http.StatusBadRequest},
		{"blank prompt", nil, `{"action":"cached-compute","prompt":"  \t "}`, http.StatusBadRequest},
		{"bad json", nil, `{"action":`, http.StatusBadRequest},
		{"provider error", &llm.ProviderError{Provider: "openai", StatusCode: 500, Err: errors.New("down")},
			`{"action":"direct-compute","prompt":"x"}`, http.StatusBadGateway},
		{"deadline", &llm.ProviderError{Provider: "openai", Err: context.DeadlineExceeded},
			`{"action":"direct-compute","prompt":"x"}`, http.StatusGatewayTimeout},
		{"unexpected", errors.New("weird"), `{"action":"direct-compute","prompt":"x"}`, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, store := newTestRouter(t, &mockComputer{err: tc.err, out: "ok"})
			rr := do(t, r, http.MethodPost, "/v1/requests", tc.body, middleware.UserIDHeader, "u")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if store.Count() != 0 {
				t.Fatalf("failed request must not create a session")
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, &mockComputer{})

	rr := do(t, r, http.MethodPost, "/v1/sessions", `{"user_id":"alice"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}

	rr = do(t, r, http.MethodPatch, "/v1/sessions/alice", `{"topic":"go"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"topic":"go"`) {
		t.Fatalf("update: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, r, http.MethodGet, "/v1/sessions/alice", "")
	var s session.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if s.UserID != "alice" || s.Context["topic"] != "go" {
		t.Fatalf("unexpected session: %#v", s)
	}

	rr = do(t, r, http.MethodDelete, "/v1/sessions/alice", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", rr.Code)
	}
	rr = do(t, r, http.MethodGet, "/v1/sessions/alice", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after remove, got %d", rr.Code)
	}
}

func TestSessionCreateGeneratesID(t *testing.T) {
	r, store := newTestRouter(t, &mockComputer{})

	rr := do(t, r, http.MethodPost, "/v1/sessions", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var s session.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(s.UserID) != 36 {
		t.Fatalf("expected generated uuid, got %q", s.UserID)
	}
	if store.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", store.Count())
	}
}

func TestSessionListAndClear(t *testing.T) {
	r, store := newTestRouter(t, &mockComputer{})
	store.Create("a")

	rr := do(t, r, http.MethodGet, "/v1/sessions", "")
	var list sessionListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 || list.MaxSessions != 2 || list.LoadPercentage != 50 {
		t.Fatalf("unexpected list: %#v", list)
	}

	rr = do(t, r, http.MethodDelete, "/v1/sessions", "")
	if rr.Code != http.StatusNoContent || store.Count() != 0 {
		t.Fatalf("clear failed: %d, count=%d", rr.Code, store.Count())
	}
}

func TestStatsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, &mockComputer{out: "x"})
	do(t, r, http.MethodPost, "/v1/requests", `{"action":"cached_query","prompt":"q","user_id":"u"}`)

	rr := do(t, r, http.MethodGet, "/v1/stats", "")
	var stats orchestrator.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Sessions.Count != 1 || stats.CacheStats.Entries != 1 || stats.VersionID != "vtest" {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}
