package normalize

import (
	"encoding/json"

	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// githubRecord mirrors one securityAdvisory node from the GitHub GraphQL API
type githubRecord struct {
	GHSAID      string `json:"ghsaId"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	PublishedAt string `json:"publishedAt"`
	UpdatedAt   string `json:"updatedAt"`
	WithdrawnAt string `json:"withdrawnAt"`

	CVSS struct {
		Score        float64 `json:"score"`
		VectorString string  `json:"vectorString"`
	} `json:"cvss"`

	References []struct {
		URL string `json:"url"`
	} `json:"references"`

	Vulnerabilities struct {
		Nodes []struct {
			Package struct {
				Ecosystem string `json:"ecosystem"`
				Name      string `json:"name"`
			} `json:"package"`
			VulnerableVersionRange string `json:"vulnerableVersionRange"`
			FirstPatchedVersion    struct {
				Identifier string `json:"identifier"`
			} `json:"firstPatchedVersion"`
		} `json:"nodes"`
	} `json:"vulnerabilities"`
}

// GitHubNormalizer maps GitHub security advisories into the canonical model
type GitHubNormalizer struct{}

func (n *GitHubNormalizer) Source() string { return SourceGitHub }

func (n *GitHubNormalizer) Normalize(raw json.RawMessage) (*entity.Vulnerability, error) {
	var record githubRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.NewPermanentf("decoding github record: %w", errors.ErrMalformedRecord)
	}
	if record.GHSAID == "" {
		return nil, errors.NewPermanentf("github record without ghsaId: %w", errors.ErrMalformedRecord)
	}

	vuln := &entity.Vulnerability{
		ID:               record.GHSAID,
		Source:           SourceGitHub,
		Title:            record.Summary,
		Description:      record.Description,
		Severity:         string(entity.ParseSeverity(record.Severity)),
		PublishedDate:    parseTime(record.PublishedAt),
		LastModifiedDate: parseTime(record.UpdatedAt),
		RawData:          rawPayload(raw),
	}
	if record.WithdrawnAt != "" {
		vuln.Status = "withdrawn"
	}

	if record.CVSS.Score > 0 {
		vuln.CVSSv3 = &entity.CVSSMetrics{
			Version:      "3.1",
			VectorString: record.CVSS.VectorString,
			BaseScore:    record.CVSS.Score,
		}
	}

	byName := make(map[string]*entity.Package)
	for _, node := range record.Vulnerabilities.Nodes {
		if node.Package.Name == "" {
			continue
		}
		pkg, seen := byName[node.Package.Name]
		if !seen {
			pkg = &entity.Package{
				Name:      node.Package.Name,
				Ecosystem: node.Package.Ecosystem,
			}
			byName[node.Package.Name] = pkg
			vuln.Packages = append(vuln.Packages, pkg)
		}
		if node.VulnerableVersionRange != "" {
			pkg.AffectedVersions = append(pkg.AffectedVersions, node.VulnerableVersionRange)
		}
		if fixed := node.FirstPatchedVersion.Identifier; fixed != "" {
			pkg.FixedVersions = append(pkg.FixedVersions, fixed)
			pkg.Versions = append(pkg.Versions, &entity.Version{
				Version: fixed,
				Status:  entity.VersionFixed,
			})
		}
	}

	for _, ref := range record.References {
		vuln.References = append(vuln.References, &entity.Reference{
			URL:    ref.URL,
			Source: SourceGitHub,
		})
	}
	vuln.Patches = extractPatches(vuln.References, SourceGitHub)

	return vuln, nil
}
