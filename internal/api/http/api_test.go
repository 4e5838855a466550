package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/shelfard/shelfard/internal/drift"
	"github.com/shelfard/shelfard/internal/export"
	"github.com/shelfard/shelfard/internal/infer"
	"github.com/shelfard/shelfard/internal/observability"
	"github.com/shelfard/shelfard/internal/registry"
	"github.com/shelfard/shelfard/internal/storage"
	"github.com/shelfard/shelfard/pkg/types"
)

func setupTestRouter(t *testing.T, maxBody int64) http.Handler {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := &drift.Service{
		Inferencer: infer.New(infer.DefaultSampleSize),
		Registry:   registry.NewObjectRegistry(store, registry.Options{Logger: logger}),
		Stats:      observability.NewDriftStats(time.Hour),
		Metrics:    observability.NewMetrics(),
		Logger:     logger,
	}
	return NewRouter(RouterConfig{Service: svc, Metrics: svc.Metrics, MaxBodyBytes: maxBody, Logger: logger})
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func TestSnapshotThenCheck(t *testing.T) {
	h := setupTestRouter(t, 0)

	w := do(h, "POST", "/v1/schemas/users/snapshots?source=https://api.example.com/users", `{"id": 1, "email": "a@b.c"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var snap drift.SnapshotResult
	decode(t, w, &snap)
	if snap.Name != "users" || snap.Version != 1 || snap.Columns != 2 {
		t.Errorf("Unexpected snapshot result: %+v", snap)
	}
	if snap.Schema.Source != "https://api.example.com/users" {
		t.Errorf("Expected source from query, got %q", snap.Schema.Source)
	}

	w = do(h, "POST", "/v1/schemas/users/check", `{"id": 2, "email": "x@y.z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var clean drift.CheckResult
	decode(t, w, &clean)
	if clean.Outcome != drift.OutcomeClean || clean.BaselineVersion != 1 {
		t.Errorf("Expected clean check against v1, got %+v", clean)
	}

	w = do(h, "POST", "/v1/schemas/users/check", `{"id": "u-2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var drifted drift.CheckResult
	decode(t, w, &drifted)
	if drifted.Outcome != drift.OutcomeDrift {
		t.Fatalf("Expected drift, got %s", drifted.Outcome)
	}
	if drifted.Diff.OverallSeverity != types.SeverityBreaking {
		t.Errorf("Expected BREAKING, got %s", drifted.Diff.OverallSeverity)
	}

	w = do(h, "GET", "/v1/stats/drift?name=users", "")
	var stats []observability.PathStats
	decode(t, w, &stats)
	if len(stats) != 2 {
		t.Errorf("Expected 2 drifting paths, got %d", len(stats))
	}
}

func TestCheckWithoutBaseline(t *testing.T) {
	h := setupTestRouter(t, 0)

	w := do(h, "POST", "/v1/schemas/orders/check", `{"id": 1}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	var resp ErrorResponse
	decode(t, w, &resp)
	if resp.Code != "NOT_FOUND" {
		t.Errorf("Expected NOT_FOUND, got %q", resp.Code)
	}
	if resp.RequestID == "" || resp.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("Expected request ID to be echoed, got %q", resp.RequestID)
	}
}

func TestSnapshotRejectsBadInput(t *testing.T) {
	h := setupTestRouter(t, 32)

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{"malformed payload", "/v1/schemas/users/snapshots", `{"id": `, http.StatusBadRequest},
		{"invalid name", "/v1/schemas/..bad/snapshots", `{"id": 1}`, http.StatusBadRequest},
		{"body too large", "/v1/schemas/users/snapshots", `{"id": "` + strings.Repeat("x", 64) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, "POST", tt.target, tt.body)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestHistoryEndpoints(t *testing.T) {
	h := setupTestRouter(t, 0)

	do(h, "POST", "/v1/schemas/users/snapshots?partition_keys=tenant&clustering_keys=id,%20ts", `{"tenant": "t", "id": 1}`)
	do(h, "POST", "/v1/schemas/users/snapshots", `{"tenant": "t", "id": 1, "name": "x"}`)
	do(h, "POST", "/v1/schemas/accounts/snapshots", `{"id": 1}`)

	w := do(h, "GET", "/v1/schemas", "")
	var names []string
	decode(t, w, &names)
	if len(names) != 2 || names[0] != "accounts" || names[1] != "users" {
		t.Errorf("Expected [accounts users], got %v", names)
	}

	w = do(h, "GET", "/v1/schemas/users/versions", "")
	var infos []registry.VersionInfo
	decode(t, w, &infos)
	if len(infos) != 2 || infos[0].Version != 1 || infos[1].Columns != 3 {
		t.Errorf("Unexpected versions: %+v", infos)
	}

	w = do(h, "GET", "/v1/schemas/users/versions/1", "")
	var v1 types.SchemaVersion
	decode(t, w, &v1)
	if v1.Version != 1 || len(v1.Schema.PartitionKeys) != 1 || v1.Schema.PartitionKeys[0] != "tenant" {
		t.Errorf("Unexpected version 1: %+v", v1.Schema)
	}
	if len(v1.Schema.ClusteringKeys) != 2 || v1.Schema.ClusteringKeys[1] != "ts" {
		t.Errorf("Expected trimmed clustering keys, got %v", v1.Schema.ClusteringKeys)
	}

	w = do(h, "GET", "/v1/schemas/users/latest", "")
	var latest types.SchemaVersion
	decode(t, w, &latest)
	if latest.Version != 2 {
		t.Errorf("Expected latest version 2, got %d", latest.Version)
	}

	if w = do(h, "GET", "/v1/schemas/users/versions/9", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing version, got %d", w.Code)
	}
	if w = do(h, "GET", "/v1/schemas/users/versions/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-numeric version, got %d", w.Code)
	}
	if w = do(h, "GET", "/v1/schemas/ghost/latest", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown name, got %d", w.Code)
	}
}

func TestOpenAPIAndArchive(t *testing.T) {
	h := setupTestRouter(t, 0)
	do(h, "POST", "/v1/schemas/users/snapshots", `{"id": 1, "tags": ["a"]}`)
	do(h, "POST", "/v1/schemas/users/snapshots", `{"id": 1}`)

	w := do(h, "GET", "/v1/schemas/users/openapi", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var doc openapi3.T
	decode(t, w, &doc)
	if doc.Components == nil || doc.Components.Schemas["users"] == nil {
		t.Fatalf("Expected users component, got %s", w.Body.String())
	}

	w = do(h, "GET", "/v1/schemas/users/archive", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/x-snappy-framed" {
		t.Errorf("Expected snappy content type, got %q", ct)
	}
	a, err := export.ReadArchive(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}
	if a.Name != "users" || len(a.Versions) != 2 {
		t.Errorf("Expected 2 versions of users, got %s with %d", a.Name, len(a.Versions))
	}
}

func TestHealthMetricsAndRouting(t *testing.T) {
	h := setupTestRouter(t, 0)

	w := do(h, "GET", "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("Unexpected health response %d %s", w.Code, w.Body.String())
	}

	do(h, "POST", "/v1/schemas/users/snapshots", `{"id": 1}`)
	w = do(h, "GET", "/metrics", "")
	if !strings.Contains(w.Body.String(), `shelfard_snapshots_total{name="users"} 1`) {
		t.Errorf("Expected snapshot counter in metrics output")
	}

	if w = do(h, "GET", "/v1/nothing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w = do(h, "DELETE", "/v1/schemas/users/latest", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
	if w = do(h, "GET", "/v1/stats/drift?top=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for top=0, got %d", w.Code)
	}
}

func TestRequestAndCorrelationIDs(t *testing.T) {
	h := setupTestRouter(t, 0)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-1" {
		t.Errorf("Expected request ID req-1, got %q", got)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != "req-1" {
		t.Errorf("Expected correlation ID to default to request ID, got %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := DefaultMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestExtraMiddlewareRunsFirst(t *testing.T) {
	store, _ := storage.NewLocalStore(t.TempDir())
	svc := &drift.Service{Registry: registry.NewObjectRegistry(store, registry.Options{})}
	reject := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	h := NewRouter(RouterConfig{Service: svc, Middleware: []func(http.Handler) http.Handler{reject}})

	if w := do(h, "GET", "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}
