// Package export writes reconciliation reports to disk as JSON.
package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vulnforge/vulnforge/internal/analyze"
	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// Report is the on-disk shape of one exported reconciliation report
type Report struct {
	GeneratedAt     time.Time               `json:"generated_at"`
	RecordCount     int                     `json:"record_count"`
	Vulnerabilities []*entity.Vulnerability `json:"vulnerabilities"`
	Snapshot        *analyze.Snapshot       `json:"snapshot,omitempty"`
}

// Exporter writes reports into a target directory
type Exporter struct {
	dir    string
	logger *slog.Logger
}

// NewExporter creates a new report exporter
func NewExporter(dir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{dir: dir, logger: logger}
}

// Export writes one report file and returns its path. The file is written to
// a temporary name first and renamed so readers never observe a partial
// report.
func (e *Exporter) Export(vulns []*entity.Vulnerability, snapshot *analyze.Snapshot) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", errors.NewTransientf("failed to create export directory: %w", err)
	}

	now := time.Now().UTC()
	report := Report{
		GeneratedAt:     now,
		RecordCount:     len(vulns),
		Vulnerabilities: vulns,
		Snapshot:        snapshot,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", errors.NewPermanentf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("report-%s.json", now.Format("20060102-150405"))
	path := filepath.Join(e.dir, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.NewTransientf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.NewTransientf("failed to finalize report: %w", err)
	}

	e.logger.Info("report exported",
		"path", path,
		"records", len(vulns),
		"size_bytes", len(data))

	return path, nil
}
