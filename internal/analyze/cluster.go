package analyze

import (
	"strings"

	"github.com/vulnforge/vulnforge/internal/entity"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for two
// descriptions to land in the same cluster.
const DefaultSimilarityThreshold = 0.8

// minDescriptionWords filters out trivial descriptions before clustering
const minDescriptionWords = 3

// ClusterDescriptions groups vulnerabilities whose descriptions are
// textually similar. Records are visited in input order; an anchor claims
// every not-yet-assigned record at or above the threshold, and singletons
// are not emitted. Earlier anchors claiming borderline matches first is
// accepted behavior, not a bug.
func ClusterDescriptions(vulns []*entity.Vulnerability, threshold float64) ([][]string, error) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	var candidates []*entity.Vulnerability
	var docs []string
	for _, v := range vulns {
		if len(strings.Fields(v.Description)) > minDescriptionWords {
			candidates = append(candidates, v)
			docs = append(docs, v.Description)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	vectorizer := &Vectorizer{}
	vectors, err := vectorizer.Vectorize(docs)
	if err != nil {
		return nil, err
	}

	assigned := make([]bool, len(candidates))
	var clusters [][]string
	for i := range candidates {
		if assigned[i] {
			continue
		}
		var members []string
		for j := range candidates {
			if j == i || assigned[j] {
				continue
			}
			if CosineSimilarity(vectors[i], vectors[j]) >= threshold {
				members = append(members, candidates[j].ID)
				assigned[j] = true
			}
		}
		if len(members) == 0 {
			continue
		}
		assigned[i] = true
		clusters = append(clusters, append([]string{candidates[i].ID}, members...))
	}
	return clusters, nil
}
