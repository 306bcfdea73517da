package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/vulnforge/vulnforge/internal/analyze"
	"github.com/vulnforge/vulnforge/internal/config"
	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/export"
	"github.com/vulnforge/vulnforge/internal/feed"
	"github.com/vulnforge/vulnforge/internal/normalize"
	"github.com/vulnforge/vulnforge/internal/queue"
	"github.com/vulnforge/vulnforge/internal/statestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg *config.APIConfig) (*APIServer, statestore.StateStore) {
	t.Helper()

	store, err := statestore.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := testLogger()
	analysis := analyze.NewService(store, analyze.NewAnalyzer(0.8, logger), time.Hour, logger)
	q := queue.NewInMemoryQueue(10)
	t.Cleanup(func() { _ = q.Close() })
	watcher := feed.NewWatcher(feed.Config{Dir: t.TempDir(), PollInterval: time.Hour}, normalize.NewRegistry(), q, logger)
	exporter := export.NewExporter(t.TempDir(), logger)

	return NewAPIServer(cfg, store, analysis, watcher, exporter, logger), store
}

func seedRecord(t *testing.T, store statestore.StateStore, id string) {
	t.Helper()
	v := &entity.Vulnerability{
		ID:            id,
		Source:        "nvd",
		Title:         "sample advisory",
		Severity:      "high",
		CVSSv3:        &entity.CVSSMetrics{Version: "3.1", BaseScore: 8.1},
		PublishedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Packages: []*entity.Package{
			{Name: "acme/widget", Ecosystem: "cpe", AffectedVersions: []string{"1.2"}},
		},
	}
	if err := store.UpsertVulnerability(context.Background(), v); err != nil {
		t.Fatalf("UpsertVulnerability() failed: %v", err)
	}
}

func TestNewAPIServer(t *testing.T) {
	cfg := &config.APIConfig{Enabled: true, Port: 8080}
	server, _ := newTestServer(t, cfg)

	if server.config != cfg {
		t.Error("Expected config to be set")
	}
	if server.router == nil {
		t.Error("Expected router to be initialized")
	}
	if server.server == nil {
		t.Error("Expected HTTP server to be initialized")
	}
}

func TestListVulnerabilities(t *testing.T) {
	server, store := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080})
	seedRecord(t, store, "CVE-2024-0001")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var summaries []VulnerabilitySummary
	if err := json.NewDecoder(w.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	got := summaries[0]
	if got.ID != "CVE-2024-0001" || !got.Scored || got.Score != 8.1 {
		t.Errorf("summary = %+v", got)
	}
	if got.PublishedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("published_at = %q", got.PublishedAt)
	}
	if got.LastModifiedAt != "" {
		t.Errorf("absent date must serialize empty, got %q", got.LastModifiedAt)
	}
}

func TestGetVulnerability(t *testing.T) {
	server, store := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080})
	seedRecord(t, store, "CVE-2024-0002")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities/CVE-2024-0002", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var record entity.Vulnerability
	if err := json.NewDecoder(w.Body).Decode(&record); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if record.ID != "CVE-2024-0002" || len(record.Packages) != 1 {
		t.Errorf("record = %+v", record)
	}
}

func TestGetVulnerabilityNotFound(t *testing.T) {
	server, _ := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities/CVE-0000-0000", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPackageRisk(t *testing.T) {
	server, store := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080})
	seedRecord(t, store, "CVE-2024-0003")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/packages/acme/widget/risk", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var assessment struct {
		Package   string  `json:"package"`
		RiskScore float64 `json:"risk_score"`
		RiskLevel string  `json:"risk_level"`
	}
	if err := json.NewDecoder(w.Body).Decode(&assessment); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if assessment.Package != "acme/widget" || assessment.RiskScore != 8.1 || assessment.RiskLevel != "high" {
		t.Errorf("assessment = %+v", assessment)
	}
}

func TestPackageRiskNotFound(t *testing.T) {
	server, _ := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/packages/nonexistent/risk", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	server, store := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080})
	seedRecord(t, store, "CVE-2024-0004")

	// Before any run the snapshot endpoint reports not found
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analysis", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status before run = %d, want 404", w.Code)
	}

	// Trigger a run, then the snapshot is served
	req = httptest.NewRequest(http.MethodPost, "/api/v1/analysis/run", nil)
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/analysis", nil)
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status after run = %d", w.Code)
	}

	var snapshot analyze.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snapshot.RecordCount != 1 {
		t.Errorf("record count = %d", snapshot.RecordCount)
	}
}

func TestAuthMiddleware(t *testing.T) {
	server, store := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080, APIKey: "secret"})
	seedRecord(t, store, "CVE-2024-0005")

	// Missing key
	req := httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", w.Code)
	}

	// Wrong key
	req = httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong key = %d, want 401", w.Code)
	}

	// Bearer prefix accepted
	req = httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status with bearer key = %d, want 200", w.Code)
	}

	// Bare token accepted
	req = httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities", nil)
	req.Header.Set("Authorization", "secret")
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status with bare key = %d, want 200", w.Code)
	}
}

func TestReadOnlyModeBlocksWrites(t *testing.T) {
	server, _ := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080, ReadOnly: true})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/discover", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}

	// Reads still work
	req = httptest.NewRequest(http.MethodGet, "/api/v1/vulnerabilities", nil)
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("read status = %d, want 200", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _ := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080, APIKey: "secret"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/vulnerabilities", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS headers missing")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &config.APIConfig{Enabled: true, Port: 8080, APIKey: "secret"})

	// Health is not behind authentication
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
