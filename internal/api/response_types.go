package api

import (
	"time"

	"github.com/vulnforge/vulnforge/internal/entity"
)

// formatTimestamp converts a time to ISO8601 (RFC 3339) format in UTC.
// The zero time formats to an empty string so absent dates serialize as "".
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// VulnerabilitySummary is the list-endpoint shape of a reconciled record.
// Timestamps are formatted as ISO8601 strings.
type VulnerabilitySummary struct {
	ID             string  `json:"id"`
	Source         string  `json:"source"`
	Title          string  `json:"title"`
	Severity       string  `json:"severity"`
	Score          float64 `json:"score"`
	Scored         bool    `json:"scored"`
	PackageCount   int     `json:"package_count"`
	PatchCount     int     `json:"patch_count"`
	PublishedAt    string  `json:"published_at"`     // ISO8601
	LastModifiedAt string  `json:"last_modified_at"` // ISO8601
}

// PackageListResponse represents the response for listing package names
type PackageListResponse struct {
	Packages []string `json:"packages"`
	Total    int      `json:"total"`
}

// toVulnerabilitySummary converts a reconciled record to its list DTO
func toVulnerabilitySummary(v *entity.Vulnerability) VulnerabilitySummary {
	score, scored := v.BestCVSSScore()
	return VulnerabilitySummary{
		ID:             v.ID,
		Source:         v.Source,
		Title:          v.Title,
		Severity:       v.Severity,
		Score:          score,
		Scored:         scored,
		PackageCount:   len(v.Packages),
		PatchCount:     len(v.Patches),
		PublishedAt:    formatTimestamp(v.PublishedDate),
		LastModifiedAt: formatTimestamp(v.LastModifiedDate),
	}
}
