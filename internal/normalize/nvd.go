package normalize

import (
	"encoding/json"

	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// nvdRecord mirrors one CVE object of the NVD API 2.0 feed. Records arrive
// either bare or wrapped in a top-level "cve" key.
type nvdRecord struct {
	CVE *nvdRecord `json:"cve,omitempty"`

	ID           string `json:"id"`
	VulnStatus   string `json:"vulnStatus"`
	Published    string `json:"published"`
	LastModified string `json:"lastModified"`

	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`

	Metrics struct {
		CVSSMetricV31 []nvdMetric `json:"cvssMetricV31"`
		CVSSMetricV30 []nvdMetric `json:"cvssMetricV30"`
		CVSSMetricV2  []nvdMetric `json:"cvssMetricV2"`
	} `json:"metrics"`

	Configurations []struct {
		Nodes []nvdNode `json:"nodes"`
	} `json:"configurations"`

	References []struct {
		URL    string   `json:"url"`
		Source string   `json:"source"`
		Tags   []string `json:"tags"`
	} `json:"references"`
}

type nvdMetric struct {
	CVSSData struct {
		Version      string  `json:"version"`
		VectorString string  `json:"vectorString"`
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
	ExploitabilityScore float64 `json:"exploitabilityScore"`
	ImpactScore         float64 `json:"impactScore"`
}

type nvdNode struct {
	Operator string `json:"operator"`
	CPEMatch []struct {
		Criteria string `json:"criteria"`
		CPE23URI string `json:"cpe23Uri"`
	} `json:"cpeMatch"`
	Children []nvdNode `json:"children"`
}

// NVDNormalizer maps NVD API 2.0 CVE records into the canonical model
type NVDNormalizer struct{}

func (n *NVDNormalizer) Source() string { return SourceNVD }

func (n *NVDNormalizer) Normalize(raw json.RawMessage) (*entity.Vulnerability, error) {
	var record nvdRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.NewPermanentf("decoding nvd record: %w", errors.ErrMalformedRecord)
	}
	if record.CVE != nil {
		record = *record.CVE
	}
	if record.ID == "" {
		return nil, errors.NewPermanentf("nvd record without id: %w", errors.ErrMalformedRecord)
	}

	vuln := &entity.Vulnerability{
		ID:               record.ID,
		Source:           SourceNVD,
		Status:           record.VulnStatus,
		Description:      englishDescription(record),
		PublishedDate:    parseTime(record.Published),
		LastModifiedDate: parseTime(record.LastModified),
		RawData:          rawPayload(raw),
	}

	vuln.CVSSv3 = nvdCVSS(record.Metrics.CVSSMetricV31, record.Metrics.CVSSMetricV30)
	vuln.CVSSv2 = nvdCVSS(record.Metrics.CVSSMetricV2)
	if vuln.CVSSv3 != nil {
		vuln.Severity = string(entity.ParseSeverity(vuln.CVSSv3.BaseSeverity))
	} else if vuln.CVSSv2 != nil {
		vuln.Severity = string(entity.ParseSeverity(vuln.CVSSv2.BaseSeverity))
	}

	for _, ref := range record.References {
		vuln.References = append(vuln.References, &entity.Reference{
			URL:    ref.URL,
			Source: ref.Source,
			Tags:   ref.Tags,
		})
	}
	vuln.Patches = extractPatches(vuln.References, SourceNVD)

	byName := make(map[string]*entity.Package)
	for _, config := range record.Configurations {
		for _, node := range config.Nodes {
			collectCPEMatches(node, vuln, byName)
		}
	}

	return vuln, nil
}

// englishDescription prefers the description tagged "en" and falls back to
// the first available one.
func englishDescription(record nvdRecord) string {
	for _, d := range record.Descriptions {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(record.Descriptions) > 0 {
		return record.Descriptions[0].Value
	}
	return ""
}

// nvdCVSS returns the first metric of the first non-empty list. Callers pass
// lists in preference order, v3.1 before v3.0.
func nvdCVSS(lists ...[]nvdMetric) *entity.CVSSMetrics {
	for _, list := range lists {
		if len(list) == 0 {
			continue
		}
		m := list[0]
		return &entity.CVSSMetrics{
			Version:             m.CVSSData.Version,
			VectorString:        m.CVSSData.VectorString,
			BaseScore:           m.CVSSData.BaseScore,
			BaseSeverity:        m.CVSSData.BaseSeverity,
			ExploitabilityScore: m.ExploitabilityScore,
			ImpactScore:         m.ImpactScore,
		}
	}
	return nil
}

// collectCPEMatches walks a configuration node and its children, merging
// packages by name so nested AND/OR groups never produce duplicates.
func collectCPEMatches(node nvdNode, vuln *entity.Vulnerability, byName map[string]*entity.Package) {
	for _, match := range node.CPEMatch {
		criteria := match.Criteria
		if criteria == "" {
			criteria = match.CPE23URI
		}
		pkg, ok := parseCPE(criteria)
		if !ok {
			continue
		}
		existing, seen := byName[pkg.Name]
		if !seen {
			byName[pkg.Name] = pkg
			vuln.Packages = append(vuln.Packages, pkg)
			continue
		}
		existing.Versions = append(existing.Versions, pkg.Versions...)
		existing.AffectedVersions = append(existing.AffectedVersions, pkg.AffectedVersions...)
	}
	for _, child := range node.Children {
		collectCPEMatches(child, vuln, byName)
	}
}
