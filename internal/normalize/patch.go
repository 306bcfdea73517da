package normalize

import (
	"strings"

	"github.com/vulnforge/vulnforge/internal/entity"
)

// patchKeywords mark a reference URL as a likely remediation link
var patchKeywords = []string{"patch", "fix", "update", "resolve", "mitigate"}

// isLikelyPatch classifies a reference as a patch link when its URL contains
// one of the patch keywords (case-insensitive) or it carries an explicit
// "Patch" tag.
func isLikelyPatch(ref *entity.Reference) bool {
	url := strings.ToLower(ref.URL)
	for _, keyword := range patchKeywords {
		if strings.Contains(url, keyword) {
			return true
		}
	}
	for _, tag := range ref.Tags {
		if tag == "Patch" {
			return true
		}
	}
	return false
}

// extractPatches builds the patch list from already-collected references
func extractPatches(refs []*entity.Reference, source string) []*entity.Patch {
	var patches []*entity.Patch
	for _, ref := range refs {
		if isLikelyPatch(ref) {
			patches = append(patches, &entity.Patch{
				URL:    ref.URL,
				Source: source,
			})
		}
	}
	return patches
}
