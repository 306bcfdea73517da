package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// debianRecord mirrors one entry of the Debian security tracker feed
type debianRecord struct {
	ID           string `json:"id"`
	Package      string `json:"package"`
	Release      string `json:"release"`
	Status       string `json:"status"`
	Urgency      string `json:"urgency"`
	Description  string `json:"description"`
	Scope        string `json:"scope"`
	FixedVersion string `json:"fixed_version"`
	Discovered   string `json:"discovered"`
	LastModified string `json:"last_modified"`

	Versions []struct {
		Version       string   `json:"version"`
		Repositories  []string `json:"repositories"`
		Architectures []string `json:"architectures"`
	} `json:"versions"`
}

// DebianNormalizer maps Debian security tracker entries into the canonical model
type DebianNormalizer struct{}

func (n *DebianNormalizer) Source() string { return SourceDebian }

func (n *DebianNormalizer) Normalize(raw json.RawMessage) (*entity.Vulnerability, error) {
	var record debianRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, errors.NewPermanentf("decoding debian record: %w", errors.ErrMalformedRecord)
	}
	if record.ID == "" {
		return nil, errors.NewPermanentf("debian record without id: %w", errors.ErrMalformedRecord)
	}

	vuln := &entity.Vulnerability{
		ID:               record.ID,
		Source:           SourceDebian,
		Description:      record.Description,
		Severity:         string(entity.ParseSeverity(record.Urgency)),
		Status:           record.Status,
		Scope:            record.Scope,
		DiscoveredDate:   parseTime(record.Discovered),
		LastModifiedDate: parseTime(record.LastModified),
		RawData:          rawPayload(raw),
	}

	if record.Package != "" {
		pkg := &entity.Package{
			Name:      record.Package,
			Ecosystem: "debian",
			Platform:  record.Release,
		}
		for _, v := range record.Versions {
			if v.Version == "" {
				continue
			}
			pkg.Versions = append(pkg.Versions, &entity.Version{
				Version:       v.Version,
				Release:       record.Release,
				Repositories:  v.Repositories,
				Architectures: v.Architectures,
				Status:        entity.VersionAffected,
			})
			pkg.AffectedVersions = append(pkg.AffectedVersions, v.Version)
		}
		if record.FixedVersion != "" {
			pkg.FixedVersions = append(pkg.FixedVersions, record.FixedVersion)
		}
		vuln.Packages = append(vuln.Packages, pkg)

		vuln.References = append(vuln.References, &entity.Reference{
			URL:    fmt.Sprintf("https://security-tracker.debian.org/tracker/%s", record.ID),
			Source: SourceDebian,
			Type:   "tracker",
		})
	}
	vuln.Patches = extractPatches(vuln.References, SourceDebian)

	return vuln, nil
}
