package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vulnforge/vulnforge/internal/clean"
	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
	"github.com/vulnforge/vulnforge/internal/merge"
	"github.com/vulnforge/vulnforge/internal/observability"
	"github.com/vulnforge/vulnforge/internal/policy"
	"github.com/vulnforge/vulnforge/internal/queue"
	"github.com/vulnforge/vulnforge/internal/statestore"
)

// Pipeline orchestrates the complete reconcile workflow
type Pipeline struct {
	worker *ReconcileWorker
	logger *slog.Logger
}

// NewPipeline creates a new pipeline instance
func NewPipeline(worker *ReconcileWorker, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		worker: worker,
		logger: logger,
	}
}

// Execute runs the complete reconcile workflow for a single identifier group
func (p *Pipeline) Execute(ctx context.Context, task *queue.ReconcileTask) error {
	startTime := time.Now()

	p.logger.Info("starting reconcile workflow",
		"task_id", task.ID,
		"vulnerability_id", task.VulnerabilityID,
		"records", len(task.Records))

	// Validate dependencies
	if err := p.validateDependencies(); err != nil {
		return err
	}

	// Phase 1: Normalize raw records into canonical entities
	normalized, dropped, err := p.normalizePhase(ctx, task)
	if err != nil {
		return err
	}

	// Phase 2: History lookup (previously reconciled state joins the merge set)
	history, err := p.historyPhase(ctx, task)
	if err != nil {
		return err
	}

	// Phase 3: Merge into one reconciled record
	merged, err := p.mergePhase(task, history, normalized)
	if err != nil {
		return err
	}

	// Merging unions fields from multiple records; clean once more so the
	// persisted record is in canonical form.
	clean.Clean(merged)

	// Phase 4: Policy evaluation
	decision, err := p.policyPhase(ctx, task, merged)
	if err != nil {
		return err
	}

	// Phase 5: Persistence
	if err := p.persistencePhase(ctx, task, merged); err != nil {
		return err
	}

	// Log completion
	p.logCompletion(task, merged, startTime, len(normalized), dropped, decision)

	metrics := observability.GetMetrics()
	metrics.ReconcileDuration.Observe(time.Since(startTime).Seconds())

	return nil
}

// validateDependencies ensures all required components are configured
func (p *Pipeline) validateDependencies() error {
	if p.worker.normalizer == nil {
		return fmt.Errorf("normalizer registry is not configured")
	}
	if p.worker.policy == nil {
		return fmt.Errorf("alert policy is not configured")
	}
	if p.worker.stateStore == nil {
		return fmt.Errorf("state store is not configured")
	}
	return nil
}

// normalizePhase converts each raw record into a canonical entity and cleans
// it. Malformed records are dropped and counted; the rest of the group
// proceeds.
func (p *Pipeline) normalizePhase(ctx context.Context, task *queue.ReconcileTask) ([]*entity.Vulnerability, int, error) {
	metrics := observability.GetMetrics()
	normalized := make([]*entity.Vulnerability, 0, len(task.Records))
	dropped := 0

	for _, record := range task.Records {
		normalizer, err := p.worker.normalizer.Lookup(record.Source)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to resolve normalizer for source %q: %w", record.Source, err)
		}

		vuln, err := normalizer.Normalize(record.Data)
		if err != nil {
			if errors.IsMalformedRecord(err) {
				dropped++
				metrics.RecordsMalformed.WithLabelValues(record.Source).Inc()
				p.logger.Warn("dropping malformed record",
					"task_id", task.ID,
					"vulnerability_id", task.VulnerabilityID,
					"source", record.Source,
					"error", err)
				continue
			}
			return nil, 0, fmt.Errorf("failed to normalize %s record: %w", record.Source, err)
		}

		clean.Clean(vuln)
		normalized = append(normalized, vuln)
		metrics.RecordsNormalized.WithLabelValues(record.Source).Inc()
	}

	p.logger.Debug("normalization completed",
		"task_id", task.ID,
		"vulnerability_id", task.VulnerabilityID,
		"normalized", len(normalized),
		"dropped", dropped)

	return normalized, dropped, nil
}

// historyPhase loads the previously reconciled record for this identifier.
// The stored record participates in the merge so repeated reconciles converge
// instead of discarding earlier sources.
func (p *Pipeline) historyPhase(ctx context.Context, task *queue.ReconcileTask) (*entity.Vulnerability, error) {
	stored, err := p.worker.stateStore.GetVulnerability(ctx, task.VulnerabilityID)
	if err != nil {
		if stderrors.Is(err, statestore.ErrVulnerabilityNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load reconciled history: %w", err)
	}

	p.logger.Debug("loaded reconciled history",
		"task_id", task.ID,
		"vulnerability_id", task.VulnerabilityID,
		"last_modified", stored.LastModifiedDate)

	return stored, nil
}

// mergePhase folds history and freshly normalized records into one record
func (p *Pipeline) mergePhase(task *queue.ReconcileTask, history *entity.Vulnerability, normalized []*entity.Vulnerability) (*entity.Vulnerability, error) {
	metrics := observability.GetMetrics()

	// History goes first so stored values win field precedence over new input
	records := make([]*entity.Vulnerability, 0, len(normalized)+1)
	if history != nil {
		records = append(records, history)
	}
	records = append(records, normalized...)

	merged, err := merge.Merge(records)
	if err != nil {
		metrics.MergesFailed.Inc()
		return nil, err
	}
	metrics.MergesTotal.Inc()

	return merged, nil
}

// policyPhase evaluates the alert policy against the reconciled record
func (p *Pipeline) policyPhase(ctx context.Context, task *queue.ReconcileTask, merged *entity.Vulnerability) (*policy.Decision, error) {
	metrics := observability.GetMetrics()

	decision, err := p.worker.policy.Evaluate(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate alert policy: %w", err)
	}
	metrics.PolicyEvaluated.Inc()

	if decision.Alert {
		metrics.PolicyAlerts.Inc()
	}

	p.logger.Debug("policy evaluation completed",
		"task_id", task.ID,
		"vulnerability_id", task.VulnerabilityID,
		"alert", decision.Alert)

	return decision, nil
}

// persistencePhase writes the reconciled record to the state store
func (p *Pipeline) persistencePhase(ctx context.Context, task *queue.ReconcileTask, merged *entity.Vulnerability) error {
	if err := p.worker.stateStore.UpsertVulnerability(ctx, merged); err != nil {
		return fmt.Errorf("failed to persist reconciled record: %w", err)
	}

	p.logger.Debug("reconciled record persisted",
		"task_id", task.ID,
		"vulnerability_id", task.VulnerabilityID)

	return nil
}

// logCompletion logs the final workflow completion
func (p *Pipeline) logCompletion(task *queue.ReconcileTask, merged *entity.Vulnerability, startTime time.Time, normalizedCount, droppedCount int, decision *policy.Decision) {
	score, _ := merged.BestCVSSScore()
	p.logger.Info("reconcile workflow completed",
		"task_id", task.ID,
		"vulnerability_id", task.VulnerabilityID,
		"total_duration", time.Since(startTime),
		"records_normalized", normalizedCount,
		"records_dropped", droppedCount,
		"severity", merged.Severity,
		"score", score,
		"packages", len(merged.Packages),
		"alert", decision.Alert)
}
