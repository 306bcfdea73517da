package export

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vulnforge/vulnforge/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExportWritesReport(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(dir, testLogger())

	vulns := []*entity.Vulnerability{
		{ID: "CVE-2024-0001", Source: "nvd", Severity: "high"},
		{ID: "CVE-2024-0002", Source: "debian", Severity: "low"},
	}

	path, err := e.Export(vulns, nil)
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("report written outside export dir: %s", path)
	}
	if !strings.HasPrefix(filepath.Base(path), "report-") {
		t.Errorf("unexpected report name: %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if report.RecordCount != 2 || len(report.Vulnerabilities) != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.GeneratedAt.IsZero() {
		t.Error("generated_at missing")
	}

	// No leftover temp files
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestExportCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	e := NewExporter(dir, testLogger())

	if _, err := e.Export(nil, nil); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("export directory not created: %v", err)
	}
}
