package entity

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// IsAffected reports whether the given version falls inside the package's
// affected set. Exact string membership is checked first; entries that parse
// as semver range constraints (GitHub publishes ranges such as
// ">= 4.0.0, < 4.17.21") are evaluated against the parsed version.
func (p *Package) IsAffected(version string) bool {
	version = strings.TrimSpace(version)
	if version == "" {
		return false
	}

	var parsed *semver.Version
	if v, err := semver.NewVersion(version); err == nil {
		parsed = v
	}

	for _, entry := range p.AffectedVersions {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == version {
			return true
		}
		if parsed == nil {
			continue
		}
		constraint, err := semver.NewConstraint(entry)
		if err != nil {
			continue
		}
		if constraint.Check(parsed) {
			return true
		}
	}

	for _, v := range p.Versions {
		if v.Status == VersionAffected && strings.TrimSpace(v.Version) == version {
			return true
		}
	}

	return false
}

// IsFixed reports whether the given version appears in the fixed set
func (p *Package) IsFixed(version string) bool {
	version = strings.TrimSpace(version)
	for _, entry := range p.FixedVersions {
		if strings.TrimSpace(entry) == version && version != "" {
			return true
		}
	}
	return false
}
