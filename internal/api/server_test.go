package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/offtask/internal/models"
)

// newTestServer creates a Server with rate limiting effectively disabled.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(Config{ListenAddr: ":0", RateLimit: 100000})
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Total   *int            `json:"total"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var env testEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, env
}

func decodeTask(t *testing.T, env testEnvelope) models.Task {
	t.Helper()
	var task models.Task
	if err := json.Unmarshal(env.Data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return task
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/api/healthz"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	srv := newTestServer(t)

	w, env := doRequest(t, srv, "POST", "/api/tasks", map[string]any{"title": "  buy milk  "})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !env.Success {
		t.Fatal("expected success envelope")
	}
	task := decodeTask(t, env)
	if task.ID == "" {
		t.Fatal("expected generated id")
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("priority = %q, want medium", task.Priority)
	}
	if task.Category != models.DefaultCategory {
		t.Errorf("category = %q, want %q", task.Category, models.DefaultCategory)
	}
	if task.CreatedAt.IsZero() || !task.UpdatedAt.Equal(task.CreatedAt) {
		t.Errorf("timestamps not stamped: created=%v updated=%v", task.CreatedAt, task.UpdatedAt)
	}
	if task.SyncStatus != "" {
		t.Errorf("server task leaked syncStatus %q", task.SyncStatus)
	}
}

func TestCreateTaskReplayReturnsExisting(t *testing.T) {
	srv := newTestServer(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	body := map[string]any{"id": "t-1", "title": "first", "createdAt": created, "updatedAt": created}

	w, env := doRequest(t, srv, "POST", "/api/tasks", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if got := decodeTask(t, env); !got.CreatedAt.Equal(created) {
		t.Fatalf("createdAt = %v, want client value %v", got.CreatedAt, created)
	}

	body["title"] = "second"
	w, env = doRequest(t, srv, "POST", "/api/tasks", body)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", w.Code)
	}
	if got := decodeTask(t, env); got.Title != "first" {
		t.Fatalf("replay overwrote task: title = %q", got.Title)
	}
	if srv.Store().Len() != 1 {
		t.Fatalf("expected 1 stored task, got %d", srv.Store().Len())
	}
	if srv.Metrics().Snapshot().CreateReplays != 1 {
		t.Fatal("expected replay to be counted")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty title", map[string]any{"title": "   "}},
		{"bad priority", map[string]any{"title": "x", "priority": "urgent"}},
		{"bad due date", map[string]any{"title": "x", "dueDate": "tomorrow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := doRequest(t, srv, "POST", "/api/tasks", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if env.Success || env.Message == "" {
				t.Fatalf("expected failure envelope with message, got %+v", env)
			}
		})
	}
}

func TestListTasksFiltersAndOrder(t *testing.T) {
	srv := newTestServer(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	srv.Store().Put(models.Task{ID: "a", Title: "Write report", Priority: models.PriorityHigh, Category: "work", CreatedAt: base, UpdatedAt: base})
	srv.Store().Put(models.Task{ID: "b", Title: "Groceries", Priority: models.PriorityLow, Category: "home", Completed: true, CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)})
	srv.Store().Put(models.Task{ID: "c", Title: "Report review", Priority: models.PriorityHigh, Category: "work", CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(2 * time.Hour)})

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"c", "b", "a"}},
		{"?priority=high", []string{"c", "a"}},
		{"?completed=true", []string{"b"}},
		{"?category=work&search=REPORT", []string{"c", "a"}},
		{"?search=groc", []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w, env := doRequest(t, srv, "GET", "/api/tasks"+tt.query, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			var tasks []models.Task
			if err := json.Unmarshal(env.Data, &tasks); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Total == nil || *env.Total != len(tt.want) {
				t.Fatalf("total = %v, want %d", env.Total, len(tt.want))
			}
			for i, id := range tt.want {
				if tasks[i].ID != id {
					t.Fatalf("position %d: got %s, want %s", i, tasks[i].ID, id)
				}
			}
		})
	}

	w, _ := doRequest(t, srv, "GET", "/api/tasks?completed=maybe", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad completed filter: expected 400, got %d", w.Code)
	}
}

func TestUpdateToggleDelete(t *testing.T) {
	srv := newTestServer(t)
	_, env := doRequest(t, srv, "POST", "/api/tasks", map[string]any{"title": "task", "dueDate": "2024-06-01"})
	id := decodeTask(t, env).ID

	stamp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	w, env := doRequest(t, srv, "PUT", "/api/tasks/"+id, map[string]any{"title": "renamed", "dueDate": "", "updatedAt": stamp})
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", w.Code)
	}
	got := decodeTask(t, env)
	if got.Title != "renamed" || got.DueDate != "" {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.UpdatedAt.Equal(stamp) {
		t.Fatalf("updatedAt = %v, want client stamp %v", got.UpdatedAt, stamp)
	}

	w, env = doRequest(t, srv, "PATCH", "/api/tasks/"+id+"/toggle", nil)
	if w.Code != http.StatusOK || !decodeTask(t, env).Completed {
		t.Fatalf("toggle failed: %d %s", w.Code, w.Body.String())
	}

	w, _ = doRequest(t, srv, "DELETE", "/api/tasks/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	w, env = doRequest(t, srv, "DELETE", "/api/tasks/"+id, nil)
	if w.Code != http.StatusNotFound || env.Success {
		t.Fatalf("second delete: expected 404 failure, got %d", w.Code)
	}
	w, _ = doRequest(t, srv, "GET", "/api/tasks/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", w.Code)
	}
}

func TestUpdateIgnoresStaleStamp(t *testing.T) {
	srv := newTestServer(t)
	newer := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
	srv.Store().Put(models.Task{ID: "s1", Title: "current", Priority: models.PriorityLow, Category: "home", CreatedAt: newer, UpdatedAt: newer})

	older := newer.Add(-time.Hour)
	w, env := doRequest(t, srv, "PUT", "/api/tasks/s1", map[string]any{"title": "stale", "updatedAt": older})
	if w.Code != http.StatusOK {
		t.Fatalf("stale update: expected 200, got %d", w.Code)
	}
	got := decodeTask(t, env)
	if got.Title != "current" || !got.UpdatedAt.Equal(newer) {
		t.Fatalf("stale update applied: %+v", got)
	}
	if stored, _ := srv.Store().Get("s1"); stored.Title != "current" {
		t.Fatalf("stored title = %q", stored.Title)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	srv := newTestServer(t)
	w, _ := doRequest(t, srv, "PUT", "/api/tasks/missing", map[string]any{"title": "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w, _ = doRequest(t, srv, "PATCH", "/api/tasks/missing/toggle", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("toggle: expected 404, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	now := models.Now()
	srv.Store().Put(models.Task{ID: "1", Title: "a", Priority: models.PriorityHigh, Category: "work", Completed: true, CreatedAt: now, UpdatedAt: now})
	srv.Store().Put(models.Task{ID: "2", Title: "b", Priority: models.PriorityLow, Category: "home", CreatedAt: now, UpdatedAt: now})
	srv.Store().Put(models.Task{ID: "3", Title: "c", Priority: models.PriorityLow, Category: "home", CreatedAt: now, UpdatedAt: now})

	w, env := doRequest(t, srv, "GET", "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats models.TaskStats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 3 || stats.Completed != 1 || stats.Pending != 2 || stats.CompletionRate != 33 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.PriorityStats.Low != 2 || stats.CategoryStats["home"] != 2 {
		t.Fatalf("unexpected breakdown %+v", stats)
	}
}

func TestRecoverPanics(t *testing.T) {
	h := recoverPanics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	w, _ := doRequest(t, srv, "GET", "/api/tasks", nil)
	if len(w.Header().Get("X-Request-ID")) != 32 {
		t.Fatalf("expected 32-char request id, got %q", w.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDReusesCallerHeader(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/tasks", nil)
	req.Header.Set("X-Request-ID", "client-trace-7")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-trace-7" {
		t.Fatalf("X-Request-ID = %q, want the caller's id", got)
	}
}

func TestObserveCountsStatusClasses(t *testing.T) {
	m := NewMetrics()
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/panic":
			panic("boom")
		}
	}), observe(m), recoverPanics)

	for _, path := range []string{"/ok", "/missing", "/panic"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}
	snap := m.Snapshot()
	if snap.Requests != 3 || snap.ClientErrors != 1 || snap.ServerErrors != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	srv := NewServer(Config{MaxBodyBytes: 64, RateLimit: 100000})
	big := bytes.Repeat([]byte("x"), 200)
	w, _ := doRequest(t, srv, "POST", "/api/tasks", map[string]any{"title": string(big)})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestSimulateLatencySkipsHealth(t *testing.T) {
	h := simulateLatency(200 * time.Millisecond)(stubHandler)

	start := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/healthz", nil))
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("health check was delayed")
	}

	start = time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/tasks", nil))
	if time.Since(start) < 200*time.Millisecond {
		t.Fatal("api request was not delayed")
	}
}

func TestStartShutdown(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"})
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
