// Package risk aggregates per-package severity into a risk score, level,
// and remediation recommendation.
package risk

import (
	"github.com/vulnforge/vulnforge/internal/entity"
)

// Level buckets a risk score
type Level string

const (
	LevelHigh    Level = "high"
	LevelMedium  Level = "medium"
	LevelLow     Level = "low"
	LevelUnknown Level = "unknown"
)

// Recommendation text is fixed per level, presentation only
var recommendations = map[Level]string{
	LevelHigh:    "Immediate action required: upgrade to a fixed version or apply available patches now.",
	LevelMedium:  "Schedule remediation in the near term and review the available fixed versions.",
	LevelLow:     "Apply fixes during regular maintenance and keep monitoring new advisories.",
	LevelUnknown: "No scored vulnerabilities available. Review the advisories manually.",
}

// Assessment is the risk summary for one package, optionally narrowed to a
// single version.
type Assessment struct {
	Package               string  `json:"package"`
	Version               string  `json:"version,omitempty"`
	RiskScore             float64 `json:"risk_score"`
	MaxCVSSScore          float64 `json:"max_cvss_score"`
	RiskLevel             Level   `json:"risk_level"`
	TotalVulnerabilities  int     `json:"total_vulnerabilities"`
	ActiveVulnerabilities int     `json:"active_vulnerabilities"`
	FixedVulnerabilities  int     `json:"fixed_vulnerabilities"`
	LatestVulnerabilityID string  `json:"latest_vulnerability_id,omitempty"`
	Recommendation        string  `json:"recommendation"`
}

// Assess computes the risk summary for a package over the vulnerabilities
// affecting it. The score is the mean of best-available CVSS base scores
// (v3 preferred); unscored records count toward totals but not the mean.
func Assess(packageName string, vulns []*entity.Vulnerability) *Assessment {
	return assess(packageName, "", vulns)
}

// AssessVersion is Assess narrowed to the vulnerabilities whose package
// entry affects the given version.
func AssessVersion(packageName, version string, vulns []*entity.Vulnerability) *Assessment {
	var filtered []*entity.Vulnerability
	for _, v := range vulns {
		pkg := v.FindPackage(packageName)
		if pkg != nil && pkg.IsAffected(version) {
			filtered = append(filtered, v)
		}
	}
	return assess(packageName, version, filtered)
}

func assess(packageName, version string, vulns []*entity.Vulnerability) *Assessment {
	a := &Assessment{
		Package:              packageName,
		Version:              version,
		RiskLevel:            LevelUnknown,
		TotalVulnerabilities: len(vulns),
	}

	var sum float64
	var scored int
	var latest *entity.Vulnerability

	for _, v := range vulns {
		if score, ok := v.BestCVSSScore(); ok {
			sum += score
			scored++
			if score > a.MaxCVSSScore {
				a.MaxCVSSScore = score
			}
		}

		if v.HasFix(packageName) {
			a.FixedVulnerabilities++
		} else {
			a.ActiveVulnerabilities++
		}

		// First record with the maximum published date wins
		if latest == nil || v.PublishedDate.After(latest.PublishedDate) {
			latest = v
		}
	}

	if latest != nil {
		a.LatestVulnerabilityID = latest.ID
	}
	if scored > 0 {
		a.RiskScore = sum / float64(scored)
		a.RiskLevel = levelFor(a.RiskScore)
	}
	a.Recommendation = recommendations[a.RiskLevel]

	return a
}

func levelFor(score float64) Level {
	switch {
	case score >= 7.0:
		return LevelHigh
	case score >= 4.0:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelUnknown
	}
}
