package analyze

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnforge/vulnforge/internal/entity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVectorizeAndSimilarity(t *testing.T) {
	docs := []string{
		"remote attacker can execute arbitrary code via crafted packet",
		"remote attacker can execute arbitrary code via crafted packet data",
		"information disclosure in logging subsystem exposes credentials",
	}

	vectors, err := (&Vectorizer{}).Vectorize(docs)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	selfSim := CosineSimilarity(vectors[0], vectors[0])
	assert.InDelta(t, 1.0, selfSim, 1e-9, "normalized vector must have unit self-similarity")

	near := CosineSimilarity(vectors[0], vectors[1])
	far := CosineSimilarity(vectors[0], vectors[2])
	assert.Greater(t, near, 0.8)
	assert.Less(t, far, 0.2)
}

func TestVectorizeEmptyCorpus(t *testing.T) {
	_, err := (&Vectorizer{}).Vectorize([]string{"", "the of and"})
	assert.Error(t, err, "stop-word-only corpus has no usable terms")
}

func TestVectorizeVocabularyCap(t *testing.T) {
	docs := []string{"alpha beta gamma delta epsilon zeta"}
	vectors, err := (&Vectorizer{MaxFeatures: 3}).Vectorize(docs)
	require.NoError(t, err)
	assert.Len(t, vectors[0], 3)
}

func TestClusterDescriptions(t *testing.T) {
	vulns := []*entity.Vulnerability{
		{ID: "CVE-1", Description: "remote attacker can execute arbitrary code via crafted packet"},
		{ID: "CVE-2", Description: "remote attacker can execute arbitrary code via crafted packet data"},
		{ID: "CVE-3", Description: "information disclosure in logging subsystem exposes credentials"},
	}

	clusters, err := ClusterDescriptions(vulns, 0.8)
	require.NoError(t, err)

	require.Len(t, clusters, 1, "singletons are not emitted")
	assert.Equal(t, []string{"CVE-1", "CVE-2"}, clusters[0])
}

func TestClusterSkipsTrivialDescriptions(t *testing.T) {
	vulns := []*entity.Vulnerability{
		{ID: "CVE-1", Description: "too short"},
		{ID: "CVE-2", Description: "too short"},
	}

	clusters, err := ClusterDescriptions(vulns, 0.8)
	require.NoError(t, err)
	assert.Empty(t, clusters, "descriptions of 3 words or fewer never cluster")
}

func TestClusterEmptyInput(t *testing.T) {
	clusters, err := ClusterDescriptions(nil, 0.8)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestBuildGraphNoDuplicates(t *testing.T) {
	pkg := func() *entity.Package {
		return &entity.Package{Name: "acme/widget", Ecosystem: "cpe", Platform: "a"}
	}
	vulns := []*entity.Vulnerability{
		{ID: "CVE-1", Packages: []*entity.Package{pkg()}},
		{ID: "CVE-2", Packages: []*entity.Package{pkg()}},
	}

	g := BuildGraph(vulns)

	assert.Len(t, g.Nodes(), 3, "package, ecosystem, platform nodes exactly once")
	assert.Len(t, g.Edges(), 2, "package-ecosystem and package-platform edges exactly once")
}

func TestBuildGraphLateTags(t *testing.T) {
	// The second record carries the platform tag the first one lacked; the
	// edge is still added for the already-seen package.
	vulns := []*entity.Vulnerability{
		{ID: "CVE-1", Packages: []*entity.Package{{Name: "acme/widget", Ecosystem: "cpe"}}},
		{ID: "CVE-2", Packages: []*entity.Package{{Name: "acme/widget", Platform: "a"}}},
	}

	g := BuildGraph(vulns)

	assert.Len(t, g.Nodes(), 3)
	assert.Len(t, g.Edges(), 2)

	neighbors := g.Neighbors("package:acme/widget")
	assert.ElementsMatch(t, []string{"ecosystem:cpe", "platform:a"}, neighbors)
}

func TestGraphKindQualifiedNodes(t *testing.T) {
	g := NewGraph()
	a := g.AddNode(NodePackage, "linux")
	b := g.AddNode(NodePlatform, "linux")
	assert.NotEqual(t, a, b, "same label under different kinds stays distinct")
}

func TestAnalyzerDegradesOnVectorizationFailure(t *testing.T) {
	// Descriptions long enough to pass the word filter but made entirely of
	// stop words leave the vectorizer with no vocabulary.
	vulns := []*entity.Vulnerability{
		{
			ID:          "CVE-1",
			Description: "the of and but with from",
			Packages:    []*entity.Package{{Name: "acme/widget", Ecosystem: "cpe"}},
		},
	}

	analysis := NewAnalyzer(0, discardLogger()).Analyze(vulns)

	assert.Empty(t, analysis.Clusters, "clusters degrade to empty")
	assert.Len(t, analysis.Nodes, 2, "graph is still built")
	assert.Len(t, analysis.Edges, 1)
}

func TestAnalyzerEmptyBatch(t *testing.T) {
	analysis := NewAnalyzer(0.8, discardLogger()).Analyze(nil)
	assert.Empty(t, analysis.Clusters)
	assert.Empty(t, analysis.Nodes)
	assert.Empty(t, analysis.Edges)
}
