package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vulnforge/vulnforge/internal/statestore"
)

var (
	dbCollectorOnce     sync.Once
	dbCollectorInstance *DatabaseCollector
)

// DatabaseCollector collects metrics from the database on-demand when /metrics is scraped
type DatabaseCollector struct {
	store  statestore.StateStore
	logger *slog.Logger

	// Metric descriptors
	vulnerabilitiesStoredDesc     *prometheus.Desc
	vulnerabilitiesBySeverityDesc *prometheus.Desc
	vulnerabilitiesBySourceDesc   *prometheus.Desc
	packagesTrackedDesc           *prometheus.Desc
}

// NewDatabaseCollector creates a new database metrics collector
func NewDatabaseCollector(store statestore.StateStore, logger *slog.Logger) *DatabaseCollector {
	return &DatabaseCollector{
		store:  store,
		logger: logger,
		vulnerabilitiesStoredDesc: prometheus.NewDesc(
			"vulnforge_vulnerabilities_stored",
			"Current total number of reconciled vulnerabilities in the state store",
			nil,
			nil,
		),
		vulnerabilitiesBySeverityDesc: prometheus.NewDesc(
			"vulnforge_vulnerabilities_by_severity",
			"Current number of reconciled vulnerabilities by severity",
			[]string{"severity"},
			nil,
		),
		vulnerabilitiesBySourceDesc: prometheus.NewDesc(
			"vulnforge_vulnerabilities_by_source",
			"Current number of reconciled vulnerabilities by origin source",
			[]string{"source"},
			nil,
		),
		packagesTrackedDesc: prometheus.NewDesc(
			"vulnforge_packages_tracked",
			"Current number of distinct package names with at least one vulnerability",
			nil,
			nil,
		),
	}
}

// RegisterDatabaseCollector registers the database collector exactly once
func RegisterDatabaseCollector(store statestore.StateStore, logger *slog.Logger) {
	dbCollectorOnce.Do(func() {
		dbCollectorInstance = NewDatabaseCollector(store, logger)
		prometheus.MustRegister(dbCollectorInstance)
		logger.Info("database metrics collector registered")
	})
}

// Describe sends the metric descriptors to the provided channel
func (c *DatabaseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.vulnerabilitiesStoredDesc
	ch <- c.vulnerabilitiesBySeverityDesc
	ch <- c.vulnerabilitiesBySourceDesc
	ch <- c.packagesTrackedDesc
}

// Collect queries the database and sends current metrics to the provided channel
func (c *DatabaseCollector) Collect(ch chan<- prometheus.Metric) {
	// Metrics don't need to be real-time or ACID-compliant, but we want them
	// to succeed even during moderate database contention. Use 3 seconds to
	// avoid blocking the /metrics endpoint indefinitely.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c.collectTotals(ctx, ch)
	c.collectBreakdowns(ctx, ch)
	c.collectPackages(ctx, ch)
}

func (c *DatabaseCollector) collectTotals(ctx context.Context, ch chan<- prometheus.Metric) {
	count, err := c.store.CountVulnerabilities(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("vulnerability count collection timed out (likely database locked)", "error", err)
		} else {
			c.logger.Error("failed to collect vulnerability count metric", "error", err)
		}
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.vulnerabilitiesStoredDesc,
		prometheus.GaugeValue,
		float64(count),
	)
}

func (c *DatabaseCollector) collectBreakdowns(ctx context.Context, ch chan<- prometheus.Metric) {
	vulns, err := c.store.ListVulnerabilities(ctx, statestore.Filter{})
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("vulnerability breakdown collection timed out (likely database locked)", "error", err)
		} else {
			c.logger.Error("failed to collect vulnerability breakdown metrics", "error", err)
		}
		return
	}

	severityCounts := make(map[string]int)
	sourceCounts := make(map[string]int)
	for _, v := range vulns {
		severity := v.Severity
		if severity == "" {
			severity = "unknown"
		}
		severityCounts[severity]++

		source := v.Source
		if source == "" {
			source = "unknown"
		}
		sourceCounts[source]++
	}

	for severity, count := range severityCounts {
		ch <- prometheus.MustNewConstMetric(
			c.vulnerabilitiesBySeverityDesc,
			prometheus.GaugeValue,
			float64(count),
			severity,
		)
	}
	for source, count := range sourceCounts {
		ch <- prometheus.MustNewConstMetric(
			c.vulnerabilitiesBySourceDesc,
			prometheus.GaugeValue,
			float64(count),
			source,
		)
	}
}

func (c *DatabaseCollector) collectPackages(ctx context.Context, ch chan<- prometheus.Metric) {
	names, err := c.store.ListPackageNames(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("package name collection timed out (likely database locked)", "error", err)
		} else {
			c.logger.Error("failed to collect package metrics", "error", err)
		}
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.packagesTrackedDesc,
		prometheus.GaugeValue,
		float64(len(names)),
	)
}
