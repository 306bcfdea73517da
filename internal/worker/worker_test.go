package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/vulnforge/vulnforge/internal/errors"
	"github.com/vulnforge/vulnforge/internal/normalize"
	"github.com/vulnforge/vulnforge/internal/policy"
	"github.com/vulnforge/vulnforge/internal/queue"
	"github.com/vulnforge/vulnforge/internal/statestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T) (*ReconcileWorker, statestore.StateStore) {
	t.Helper()

	store, err := statestore.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	engine, err := policy.NewEngine(testLogger(), policy.PolicyConfig{})
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	w := NewReconcileWorker(
		queue.NewInMemoryQueue(10),
		normalize.NewRegistry(),
		engine,
		store,
		Config{RetryAttempts: 2, RetryBackoff: time.Millisecond, Concurrency: 1},
		testLogger(),
	)
	return w, store
}

const nvdRecord = `{
	"cve": {
		"id": "CVE-2024-1234",
		"published": "2024-03-01T10:00:00.000",
		"lastModified": "2024-03-05T12:30:00.000",
		"descriptions": [{"lang": "en", "value": "A buffer overflow in widget allows remote code execution."}],
		"metrics": {"cvssMetricV31": [{"cvssData": {"version": "3.1", "vectorString": "CVSS:3.1/AV:N", "baseScore": 9.8, "baseSeverity": "CRITICAL"}}]},
		"configurations": [{"nodes": [{"cpeMatch": [{"criteria": "cpe:2.3:a:acme:widget:1.2:*:*:*:*:*:*:*"}]}]}],
		"references": [{"url": "https://acme.example/advisories/1", "source": "acme", "tags": ["Vendor Advisory"]}]
	}
}`

const debianRecord = `{
	"id": "CVE-2024-1234",
	"package": "widget",
	"release": "bookworm",
	"status": "resolved",
	"urgency": "high",
	"description": "Buffer overflow in widget.",
	"fixed_version": "1.2-3+deb12u1",
	"last_modified": "2024-03-10T00:00:00Z"
}`

func TestProcessTaskReconcilesGroup(t *testing.T) {
	w, store := newTestWorker(t)
	ctx := context.Background()

	task := &queue.ReconcileTask{
		ID:              "task-1",
		VulnerabilityID: "CVE-2024-1234",
		Records: []queue.RawRecord{
			{Source: normalize.SourceNVD, Data: json.RawMessage(nvdRecord)},
			{Source: normalize.SourceDebian, Data: json.RawMessage(debianRecord)},
		},
	}

	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask() failed: %v", err)
	}

	got, err := store.GetVulnerability(ctx, "CVE-2024-1234")
	if err != nil {
		t.Fatalf("GetVulnerability() failed: %v", err)
	}

	if got.CVSSv3 == nil || got.CVSSv3.BaseScore != 9.8 {
		t.Errorf("cvss lost in merge: %+v", got.CVSSv3)
	}
	// The later Debian timestamp wins last-modified
	want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if !got.LastModifiedDate.Equal(want) {
		t.Errorf("last modified = %v, want %v", got.LastModifiedDate, want)
	}
	// Packages from both sources union by name
	if len(got.Packages) != 2 {
		t.Errorf("packages = %d, want 2 (acme/widget and widget)", len(got.Packages))
	}
}

func TestProcessTaskMergesWithHistory(t *testing.T) {
	w, store := newTestWorker(t)
	ctx := context.Background()

	first := &queue.ReconcileTask{
		ID:              "task-1",
		VulnerabilityID: "CVE-2024-1234",
		Records:         []queue.RawRecord{{Source: normalize.SourceNVD, Data: json.RawMessage(nvdRecord)}},
	}
	if err := w.ProcessTask(ctx, first); err != nil {
		t.Fatalf("first ProcessTask() failed: %v", err)
	}

	second := &queue.ReconcileTask{
		ID:              "task-2",
		VulnerabilityID: "CVE-2024-1234",
		Records:         []queue.RawRecord{{Source: normalize.SourceDebian, Data: json.RawMessage(debianRecord)}},
	}
	if err := w.ProcessTask(ctx, second); err != nil {
		t.Fatalf("second ProcessTask() failed: %v", err)
	}

	got, err := store.GetVulnerability(ctx, "CVE-2024-1234")
	if err != nil {
		t.Fatalf("GetVulnerability() failed: %v", err)
	}
	// CVSS from the first reconcile survives a later single-source reconcile
	if got.CVSSv3 == nil || got.CVSSv3.BaseScore != 9.8 {
		t.Errorf("history lost across reconciles: %+v", got.CVSSv3)
	}
	if len(got.Packages) != 2 {
		t.Errorf("packages = %d, want 2", len(got.Packages))
	}

	count, err := store.CountVulnerabilities(ctx)
	if err != nil {
		t.Fatalf("CountVulnerabilities() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("repeated reconciles must not duplicate rows, count = %d", count)
	}
}

func TestProcessTaskDropsMalformedRecords(t *testing.T) {
	w, store := newTestWorker(t)
	ctx := context.Background()

	task := &queue.ReconcileTask{
		ID:              "task-1",
		VulnerabilityID: "CVE-2024-1234",
		Records: []queue.RawRecord{
			{Source: normalize.SourceNVD, Data: json.RawMessage(`{"descriptions": []}`)},
			{Source: normalize.SourceDebian, Data: json.RawMessage(debianRecord)},
		},
	}

	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("group with one usable record must succeed: %v", err)
	}

	got, err := store.GetVulnerability(ctx, "CVE-2024-1234")
	if err != nil {
		t.Fatalf("GetVulnerability() failed: %v", err)
	}
	if got.Source != normalize.SourceDebian {
		t.Errorf("source = %q", got.Source)
	}
}

func TestProcessTaskAllRecordsMalformed(t *testing.T) {
	w, _ := newTestWorker(t)

	task := &queue.ReconcileTask{
		ID:              "task-1",
		VulnerabilityID: "CVE-2024-1234",
		Records: []queue.RawRecord{
			{Source: normalize.SourceNVD, Data: json.RawMessage(`{"descriptions": []}`)},
		},
	}

	err := w.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("group without usable records must fail")
	}
	if errors.IsTransient(err) {
		t.Error("empty merge set must not be retried")
	}
}

func TestProcessTaskUnknownSource(t *testing.T) {
	w, _ := newTestWorker(t)

	task := &queue.ReconcileTask{
		ID:              "task-1",
		VulnerabilityID: "CVE-2024-1234",
		Records:         []queue.RawRecord{{Source: "osv", Data: json.RawMessage(`{}`)}},
	}

	if err := w.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("unknown source must fail the task")
	}
}

func TestProcessTaskNil(t *testing.T) {
	w, _ := newTestWorker(t)
	if err := w.ProcessTask(context.Background(), nil); err == nil {
		t.Fatal("nil task must fail")
	}
}

func TestHandleTaskErrorClassification(t *testing.T) {
	w, _ := newTestWorker(t)
	task := &queue.ReconcileTask{ID: "task-1", VulnerabilityID: "CVE-2024-0001"}

	tests := []struct {
		name    string
		err     error
		attempt int
		want    ErrorHandlerAction
	}{
		{"transient retries", errors.NewTransientf("db locked"), 1, ActionRetry},
		{"transient exhausted", errors.NewTransientf("db locked"), 2, ActionFail},
		{"permanent fails", errors.NewPermanentf("bad input"), 1, ActionFail},
		{"empty merge set drops", errors.NewPermanentf("merge: %w", errors.ErrEmptyMergeSet), 1, ActionDrop},
		{"malformed drops", errors.NewPermanentf("record: %w", errors.ErrMalformedRecord), 1, ActionDrop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, _ := w.handleTaskError(tt.err, tt.attempt, task)
			if action != tt.want {
				t.Errorf("action = %v, want %v", action, tt.want)
			}
		})
	}
}
