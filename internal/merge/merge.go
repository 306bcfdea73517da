// Package merge reconciles multiple canonical records sharing one
// vulnerability identifier into a single record via an ordered fold with
// field-level precedence rules.
package merge

import (
	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// Merge folds an ordered list of records that share one id into a single
// reconciled record. The first record is the accumulator; tie-breaks that
// name "first" are order-sensitive on purpose, downstream provenance keys
// off them.
func Merge(records []*entity.Vulnerability) (*entity.Vulnerability, error) {
	if len(records) == 0 {
		return nil, errors.NewPermanentf("merging zero records: %w", errors.ErrEmptyMergeSet)
	}

	acc := records[0]
	for _, next := range records[1:] {
		if next.ID != acc.ID {
			return nil, errors.NewPermanentf("merging %q into %q: %w", next.ID, acc.ID, errors.ErrIdentityMismatch)
		}
		mergePair(acc, next)
	}
	return acc, nil
}

// mergePair applies one reduction step, folding next into acc
func mergePair(acc, next *entity.Vulnerability) {
	acc.Title = firstNonEmpty(acc.Title, next.Title)
	acc.Description = firstNonEmpty(acc.Description, next.Description)
	acc.Severity = firstNonEmpty(acc.Severity, next.Severity)
	acc.Status = firstNonEmpty(acc.Status, next.Status)
	acc.Scope = firstNonEmpty(acc.Scope, next.Scope)

	// Strictly-later wins; equal timestamps keep the accumulator's value
	if next.LastModifiedDate.After(acc.LastModifiedDate) {
		acc.LastModifiedDate = next.LastModifiedDate
	}
	if acc.PublishedDate.IsZero() {
		acc.PublishedDate = next.PublishedDate
	}
	if acc.DiscoveredDate.IsZero() {
		acc.DiscoveredDate = next.DiscoveredDate
	}

	// First source with a score wins; a later source never replaces it
	if acc.CVSSv3 == nil {
		acc.CVSSv3 = next.CVSSv3
	}
	if acc.CVSSv2 == nil {
		acc.CVSSv2 = next.CVSSv2
	}

	mergePackages(acc, next)
	mergeReferences(acc, next)
	mergePatches(acc, next)
	mergeNotes(acc, next)
	mergeConfigurations(acc, next)
	mergeRawData(acc, next)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// mergePackages unions by package name. A package already present is left
// as-is; there is no deep merge of version lists.
func mergePackages(acc, next *entity.Vulnerability) {
	known := make(map[string]bool, len(acc.Packages))
	for _, pkg := range acc.Packages {
		known[pkg.Name] = true
	}
	for _, pkg := range next.Packages {
		if known[pkg.Name] {
			continue
		}
		known[pkg.Name] = true
		acc.Packages = append(acc.Packages, pkg)
	}
}

func mergeReferences(acc, next *entity.Vulnerability) {
	known := make(map[string]bool, len(acc.References))
	for _, ref := range acc.References {
		known[ref.URL] = true
	}
	for _, ref := range next.References {
		if known[ref.URL] {
			continue
		}
		known[ref.URL] = true
		acc.References = append(acc.References, ref)
	}
}

func mergePatches(acc, next *entity.Vulnerability) {
	known := make(map[string]bool, len(acc.Patches))
	for _, patch := range acc.Patches {
		known[patch.URL] = true
	}
	for _, patch := range next.Patches {
		if known[patch.URL] {
			continue
		}
		known[patch.URL] = true
		acc.Patches = append(acc.Patches, patch)
	}
}

func mergeNotes(acc, next *entity.Vulnerability) {
	known := make(map[string]bool, len(acc.Notes))
	for _, note := range acc.Notes {
		known[note] = true
	}
	for _, note := range next.Notes {
		if known[note] {
			continue
		}
		known[note] = true
		acc.Notes = append(acc.Notes, note)
	}
}

func mergeConfigurations(acc, next *entity.Vulnerability) {
	acc.Configurations = append(acc.Configurations, next.Configurations...)
}

// mergeRawData shallow-merges the incoming payload, incoming keys winning.
// Audit-only; never consulted for reconciliation decisions.
func mergeRawData(acc, next *entity.Vulnerability) {
	if len(next.RawData) == 0 {
		return
	}
	if acc.RawData == nil {
		acc.RawData = make(map[string]interface{}, len(next.RawData))
	}
	for key, value := range next.RawData {
		acc.RawData[key] = value
	}
}
