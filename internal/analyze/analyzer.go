// Package analyze derives correlation analytics from reconciled
// vulnerability records: similarity clusters over description text and an
// undirected package relationship graph.
package analyze

import (
	"log/slog"

	"github.com/vulnforge/vulnforge/internal/entity"
)

// Analysis is the outcome of one correlation pass over a record batch
type Analysis struct {
	Clusters [][]string `json:"clusters"`
	Nodes    []Node     `json:"nodes"`
	Edges    []Edge     `json:"edges"`
}

// Analyzer runs clustering and graph construction over in-memory batches.
// The whole batch is one atomic unit of work; similarity uses a global
// vocabulary and a pairwise matrix, so it cannot be sharded.
type Analyzer struct {
	threshold float64
	logger    *slog.Logger
}

// NewAnalyzer creates an analyzer with the given similarity threshold.
// A non-positive threshold selects the default of 0.8.
func NewAnalyzer(threshold float64, logger *slog.Logger) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Analyzer{threshold: threshold, logger: logger}
}

// Analyze builds clusters and the relationship graph for one batch. A
// vectorization failure degrades to empty clusters; the graph is built
// independently of text similarity and survives.
func (a *Analyzer) Analyze(vulns []*entity.Vulnerability) Analysis {
	graph := BuildGraph(vulns)

	clusters, err := ClusterDescriptions(vulns, a.threshold)
	if err != nil {
		a.logger.Warn("description clustering degraded to empty result",
			"records", len(vulns),
			"error", err.Error())
		clusters = nil
	}

	return Analysis{
		Clusters: clusters,
		Nodes:    graph.Nodes(),
		Edges:    graph.Edges(),
	}
}
