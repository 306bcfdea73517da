package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vulnforge/vulnforge/internal/errors"
	"github.com/vulnforge/vulnforge/internal/normalize"
	"github.com/vulnforge/vulnforge/internal/observability"
	"github.com/vulnforge/vulnforge/internal/queue"
)

// Watcher continuously monitors the advisory feed directory for new and
// updated raw advisories
type Watcher interface {
	// Start begins the continuous discovery loop
	Start(ctx context.Context) error

	// Discover performs a single discovery cycle
	Discover(ctx context.Context) error
}

// Config contains configuration for the feed watcher
type Config struct {
	// Dir is the feed root. Each known source has a subdirectory of JSON
	// advisory files: <dir>/nvd/, <dir>/debian/, <dir>/github/, <dir>/redhat/.
	Dir          string
	PollInterval time.Duration
}

// watcherImpl implements the Watcher interface
type watcherImpl struct {
	config    Config
	registry  *normalize.Registry
	taskQueue queue.TaskQueue
	logger    *slog.Logger

	// seen tracks file modification times so unchanged files are not
	// re-enqueued on every cycle
	seenMu sync.Mutex
	seen   map[string]time.Time
}

// NewWatcher creates a new feed watcher
func NewWatcher(config Config, registry *normalize.Registry, taskQueue queue.TaskQueue, logger *slog.Logger) Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &watcherImpl{
		config:    config,
		registry:  registry,
		taskQueue: taskQueue,
		logger:    logger,
		seen:      make(map[string]time.Time),
	}
}

// Start begins the continuous discovery loop
func (w *watcherImpl) Start(ctx context.Context) error {
	w.logger.Info("starting feed watcher",
		"dir", w.config.Dir,
		"poll_interval", w.config.PollInterval.String())

	// Perform initial discovery
	if err := w.Discover(ctx); err != nil {
		w.logger.Error("initial discovery failed", "error", err.Error())
	}

	// Wait for poll interval after each discovery completes
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("feed watcher shutting down")
			return ctx.Err()
		case <-time.After(w.config.PollInterval):
			if err := w.Discover(ctx); err != nil {
				w.logger.Error("discovery cycle failed", "error", err.Error())
			}
		}
	}
}

// Discover performs a single discovery cycle: it loads new and changed
// advisory files, groups the records by vulnerability identifier, and
// enqueues one reconcile task per identifier.
func (w *watcherImpl) Discover(ctx context.Context) error {
	w.logger.Info("starting discovery cycle", "dir", w.config.Dir)
	metrics := observability.GetMetrics()

	groups := make(map[string][]queue.RawRecord)
	order := make([]string, 0)

	for _, source := range w.registry.Sources() {
		sourceDir := filepath.Join(w.config.Dir, source)
		records, err := w.loadSource(sourceDir, source)
		if err != nil {
			metrics.FeedErrors.Inc()
			w.logger.Error("failed to load source directory",
				"source", source,
				"dir", sourceDir,
				"error", err.Error())
			continue
		}

		for _, rec := range records {
			id, err := probeIdentifier(source, rec.Data)
			if err != nil {
				metrics.FeedErrors.Inc()
				w.logger.Warn("skipping advisory without identifier",
					"source", source,
					"error", err.Error())
				continue
			}
			if _, exists := groups[id]; !exists {
				order = append(order, id)
			}
			groups[id] = append(groups[id], rec)
			metrics.AdvisoriesDiscovered.Inc()
		}
	}

	enqueued := 0
	for _, id := range order {
		task := &queue.ReconcileTask{
			ID:              fmt.Sprintf("%s-%d", id, time.Now().Unix()),
			VulnerabilityID: id,
			Records:         groups[id],
			EnqueuedAt:      time.Now(),
		}
		if err := w.taskQueue.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("failed to enqueue task: %w", err)
		}
		enqueued++
	}

	w.logger.Info("discovery cycle completed",
		"identifiers", len(groups),
		"tasks_enqueued", enqueued)
	return nil
}

// loadSource reads new and changed advisory files from one source directory
func (w *watcherImpl) loadSource(dir, source string) ([]queue.RawRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// A source with no local feed is not an error
			return nil, nil
		}
		return nil, errors.NewTransientf("failed to read feed directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var records []queue.RawRecord
	for _, name := range names {
		path := filepath.Join(dir, name)

		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn("failed to stat advisory file", "path", path, "error", err.Error())
			continue
		}

		w.seenMu.Lock()
		lastSeen, ok := w.seen[path]
		w.seenMu.Unlock()
		if ok && !info.ModTime().After(lastSeen) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("failed to read advisory file", "path", path, "error", err.Error())
			continue
		}

		fileRecords, err := decodeRecords(data)
		if err != nil {
			w.logger.Warn("failed to decode advisory file", "path", path, "error", err.Error())
			continue
		}

		for _, raw := range fileRecords {
			records = append(records, queue.RawRecord{Source: source, Data: raw})
		}

		w.seenMu.Lock()
		w.seen[path] = info.ModTime()
		w.seenMu.Unlock()
	}

	return records, nil
}

// decodeRecords accepts either a single JSON object or an array of objects
func decodeRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, errors.NewPermanentf("invalid advisory array: %w", err)
		}
		return records, nil
	}

	var record json.RawMessage
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, errors.NewPermanentf("invalid advisory object: %w", err)
	}
	return []json.RawMessage{record}, nil
}

// idProbe extracts the vulnerability identifier without fully normalizing the
// record. The field holding the identifier differs per source.
type idProbe struct {
	ID     string          `json:"id"`
	GhsaID string          `json:"ghsaId"`
	CVE    json.RawMessage `json:"CVE"`
	Nested *struct {
		ID string `json:"id"`
	} `json:"cve"`
}

// probeIdentifier returns the vulnerability identifier of a raw record
func probeIdentifier(source string, data json.RawMessage) (string, error) {
	var probe idProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", errors.NewPermanentf("failed to probe identifier: %w", err)
	}

	id := probe.ID
	switch source {
	case normalize.SourceGitHub:
		if probe.GhsaID != "" {
			id = probe.GhsaID
		}
	case normalize.SourceNVD:
		if id == "" && probe.Nested != nil {
			id = probe.Nested.ID
		}
	case normalize.SourceRedHat:
		// The identifier lives in a top-level CVE field holding a string
		var cve string
		if len(probe.CVE) > 0 && json.Unmarshal(probe.CVE, &cve) == nil && cve != "" {
			id = cve
		}
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.NewPermanentf("advisory record: %w", errors.ErrMalformedRecord)
	}
	return id, nil
}
