package analyze

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/observability"
	"github.com/vulnforge/vulnforge/internal/risk"
	"github.com/vulnforge/vulnforge/internal/statestore"
)

// Snapshot is the result of one analysis run over the reconciled corpus
type Snapshot struct {
	Analysis    Analysis           `json:"analysis"`
	Assessments []*risk.Assessment `json:"assessments"`
	RecordCount int                `json:"record_count"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Service periodically analyzes the reconciled corpus and keeps the latest
// snapshot available for the API and export.
type Service struct {
	store    statestore.StateStore
	analyzer *Analyzer
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewService creates a new analysis service
func NewService(store statestore.StateStore, analyzer *Analyzer, interval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		analyzer: analyzer,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the periodic analysis loop
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting analysis service", "interval", s.interval.String())

	// Run once on startup so the API has data before the first tick
	if err := s.Run(ctx); err != nil {
		s.logger.Error("initial analysis run failed", "error", err.Error())
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("analysis service shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.logger.Error("analysis run failed", "error", err.Error())
			}
		}
	}
}

// Run performs one analysis pass over the full reconciled corpus
func (s *Service) Run(ctx context.Context) error {
	startTime := time.Now()
	metrics := observability.GetMetrics()

	vulns, err := s.store.ListVulnerabilities(ctx, statestore.Filter{})
	if err != nil {
		metrics.AnalysisFailed.Inc()
		return err
	}

	analysis := s.analyzer.Analyze(vulns)
	assessments := assessPackages(vulns)

	snapshot := &Snapshot{
		Analysis:    analysis,
		Assessments: assessments,
		RecordCount: len(vulns),
		GeneratedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()

	metrics.AnalysisRuns.Inc()
	metrics.AnalysisDuration.Observe(time.Since(startTime).Seconds())
	metrics.ClustersFound.Set(float64(len(analysis.Clusters)))

	s.logger.Info("analysis run completed",
		"records", len(vulns),
		"clusters", len(analysis.Clusters),
		"graph_nodes", len(analysis.Nodes),
		"graph_edges", len(analysis.Edges),
		"assessments", len(assessments),
		"duration", time.Since(startTime))

	return nil
}

// Latest returns the most recent snapshot, or nil if no run has completed
func (s *Service) Latest() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// assessPackages computes one risk assessment per package named anywhere in
// the corpus, in alphabetical order.
func assessPackages(vulns []*entity.Vulnerability) []*risk.Assessment {
	byPackage := make(map[string][]*entity.Vulnerability)
	for _, v := range vulns {
		for _, pkg := range v.Packages {
			if pkg.Name == "" {
				continue
			}
			byPackage[pkg.Name] = append(byPackage[pkg.Name], v)
		}
	}

	names := make([]string, 0, len(byPackage))
	for name := range byPackage {
		names = append(names, name)
	}
	sort.Strings(names)

	assessments := make([]*risk.Assessment, 0, len(names))
	for _, name := range names {
		assessments = append(assessments, risk.Assess(name, byPackage[name]))
	}
	return assessments
}
