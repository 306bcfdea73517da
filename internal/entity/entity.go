package entity

import (
	"time"
)

// VersionStatus describes how a version relates to a vulnerability
type VersionStatus string

const (
	VersionAffected VersionStatus = "affected"
	VersionFixed    VersionStatus = "fixed"
	VersionUnknown  VersionStatus = "unknown"
)

// Version is a single version entry owned by exactly one Package
type Version struct {
	Version       string        `json:"version"`
	Release       string        `json:"release,omitempty"`
	Architectures []string      `json:"architectures,omitempty"`
	Status        VersionStatus `json:"status,omitempty"`
	Repositories  []string      `json:"repositories,omitempty"`
}

// Package is an affected package within one vulnerability. Name is
// normalized lower-case and unique within the vulnerability's package list.
type Package struct {
	Name             string     `json:"name"`
	Ecosystem        string     `json:"ecosystem,omitempty"`
	Platform         string     `json:"platform,omitempty"`
	Versions         []*Version `json:"versions,omitempty"`
	AffectedVersions []string   `json:"affected_versions,omitempty"`
	FixedVersions    []string   `json:"fixed_versions,omitempty"`
}

// Reference is a link associated with a vulnerability. Identity for
// deduplication is the normalized URL.
type Reference struct {
	URL    string   `json:"url"`
	Source string   `json:"source,omitempty"`
	Type   string   `json:"type,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Patch is a likely remediation link extracted from references
type Patch struct {
	URL         string `json:"url"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

// CVSSMetrics is one CVSS score object. A newer metric replaces the whole
// object; individual fields are never mutated after attachment.
type CVSSMetrics struct {
	Version             string  `json:"version"`
	VectorString        string  `json:"vector_string,omitempty"`
	BaseScore           float64 `json:"base_score"`
	BaseSeverity        string  `json:"base_severity,omitempty"`
	ExploitabilityScore float64 `json:"exploitability_score,omitempty"`
	ImpactScore         float64 `json:"impact_score,omitempty"`
	Status              string  `json:"status,omitempty"`
}

// Vulnerability is the canonical record reconciled from one or more source
// advisories. ID is stable across merges and never overwritten once set.
type Vulnerability struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Status      string `json:"status,omitempty"`
	Scope       string `json:"scope,omitempty"`

	CVSSv2 *CVSSMetrics `json:"cvss_v2,omitempty"`
	CVSSv3 *CVSSMetrics `json:"cvss_v3,omitempty"`

	PublishedDate    time.Time `json:"published_date,omitempty"`
	LastModifiedDate time.Time `json:"last_modified_date,omitempty"`
	DiscoveredDate   time.Time `json:"discovered_date,omitempty"`

	Packages       []*Package               `json:"packages,omitempty"`
	Configurations []map[string]interface{} `json:"configurations,omitempty"`
	References     []*Reference             `json:"references,omitempty"`
	Patches        []*Patch                 `json:"patches,omitempty"`
	Notes          []string                 `json:"notes,omitempty"`

	// RawData keeps the original source payload for audit only. It never
	// drives reconciliation decisions.
	RawData map[string]interface{} `json:"raw_data,omitempty"`
}

// BestCVSSScore returns the preferred base score (v3 over v2) and whether
// the vulnerability carries any score at all.
func (v *Vulnerability) BestCVSSScore() (float64, bool) {
	if v.CVSSv3 != nil {
		return v.CVSSv3.BaseScore, true
	}
	if v.CVSSv2 != nil {
		return v.CVSSv2.BaseScore, true
	}
	return 0, false
}

// FindPackage returns the package with the given name, or nil
func (v *Vulnerability) FindPackage(name string) *Package {
	for _, p := range v.Packages {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// HasFix reports whether the named package carries at least one fixed version
func (v *Vulnerability) HasFix(packageName string) bool {
	p := v.FindPackage(packageName)
	return p != nil && len(p.FixedVersions) > 0
}
