package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// flexFloat tolerates scores encoded as JSON numbers or strings. The RedHat
// Security Data API uses strings for cvss base scores.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

// redhatRecord mirrors one CVE document of the RedHat Security Data API
type redhatRecord struct {
	CVE                 string `json:"CVE"`
	ThreatSeverity      string `json:"threat_severity"`
	PublicDate          string `json:"public_date"`
	BugzillaDescription string `json:"bugzilla_description"`
	Bugzilla            string `json:"bugzilla"`
	Statement           string `json:"statement"`

	CVSS3 struct {
		ScoringVector string    `json:"cvss3_scoring_vector"`
		BaseScore     flexFloat `json:"cvss3_base_score"`
		Status        string    `json:"status"`
	} `json:"cvss3"`

	CVSS struct {
		ScoringVector string    `json:"cvss_scoring_vector"`
		BaseScore     flexFloat `json:"cvss_base_score"`
		Status        string    `json:"status"`
	} `json:"cvss"`

	Details    []string `json:"details"`
	References []string `json:"references"`

	AffectedPackages []struct {
		PackageName string `json:"package_name"`
		ModuleName  string `json:"module_name"`
		ProductName string `json:"product_name"`
		Release     string `json:"release"`
		Arch        string `json:"arch"`
		FixState    string `json:"fix_state"`
	} `json:"affected_packages"`
}

// RedHatNormalizer maps RedHat Security Data API records into the canonical model
type RedHatNormalizer struct{}

func (n *RedHatNormalizer) Source() string { return SourceRedHat }

func (n *RedHatNormalizer) Normalize(raw json.RawMessage) (*entity.Vulnerability, error) {
	var record redhatRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.NewPermanentf("decoding redhat record: %w", errors.ErrMalformedRecord)
	}
	if record.CVE == "" {
		return nil, errors.NewPermanentf("redhat record without CVE: %w", errors.ErrMalformedRecord)
	}

	vuln := &entity.Vulnerability{
		ID:            record.CVE,
		Source:        SourceRedHat,
		Title:         record.BugzillaDescription,
		Description:   strings.Join(record.Details, " "),
		Severity:      string(entity.ParseSeverity(record.ThreatSeverity)),
		PublishedDate: parseTime(record.PublicDate),
		RawData:       rawPayload(raw),
	}
	if record.Statement != "" {
		vuln.Notes = append(vuln.Notes, record.Statement)
	}

	if record.CVSS3.BaseScore > 0 {
		vuln.CVSSv3 = &entity.CVSSMetrics{
			Version:      "3",
			VectorString: record.CVSS3.ScoringVector,
			BaseScore:    float64(record.CVSS3.BaseScore),
			Status:       record.CVSS3.Status,
		}
	}
	if record.CVSS.BaseScore > 0 {
		vuln.CVSSv2 = &entity.CVSSMetrics{
			Version:      "2",
			VectorString: record.CVSS.ScoringVector,
			BaseScore:    float64(record.CVSS.BaseScore),
			Status:       record.CVSS.Status,
		}
	}

	byName := make(map[string]*entity.Package)
	for _, ap := range record.AffectedPackages {
		name := ap.PackageName
		if name == "" {
			name = ap.ModuleName
		}
		if name == "" {
			continue
		}
		pkg, seen := byName[name]
		if !seen {
			pkg = &entity.Package{
				Name:      name,
				Ecosystem: "rpm",
				Platform:  ap.ProductName,
			}
			byName[name] = pkg
			vuln.Packages = append(vuln.Packages, pkg)
		}
		// The release string is the version identity of the entry; without
		// it two releases of one package would collapse in cleaning.
		version := &entity.Version{
			Version: ap.Release,
			Status:  entity.VersionUnknown,
		}
		if ap.Arch != "" {
			version.Architectures = []string{ap.Arch}
		}
		switch strings.ToLower(ap.FixState) {
		case "fixed", "not affected":
			version.Status = entity.VersionFixed
			if ap.Release != "" {
				pkg.FixedVersions = append(pkg.FixedVersions, ap.Release)
			}
		case "affected", "fix deferred", "will not fix":
			version.Status = entity.VersionAffected
			if ap.Release != "" {
				pkg.AffectedVersions = append(pkg.AffectedVersions, ap.Release)
			}
		}
		pkg.Versions = append(pkg.Versions, version)
	}

	for _, url := range record.References {
		vuln.References = append(vuln.References, &entity.Reference{
			URL:    url,
			Source: SourceRedHat,
		})
	}
	if record.Bugzilla != "" {
		vuln.References = append(vuln.References, &entity.Reference{
			URL:    fmt.Sprintf("https://bugzilla.redhat.com/%s", record.Bugzilla),
			Source: SourceRedHat,
			Type:   "bugzilla",
		})
	}
	vuln.Patches = extractPatches(vuln.References, SourceRedHat)

	return vuln, nil
}
