package normalize

import (
	"strings"

	"github.com/vulnforge/vulnforge/internal/entity"
)

const cpeWildcard = "*"

// parseCPE decomposes a CPE 2.3 identifier of the form
// cpe:2.3:<part>:<vendor>:<product>:<version>:... into a package keyed by
// "<vendor>/<product>" with a platform tag from <part>. A wildcard version
// produces no Version entry but still yields the package. Identifiers with
// fewer than 5 colon-delimited segments are skipped.
func parseCPE(criteria string) (*entity.Package, bool) {
	parts := strings.Split(strings.TrimSpace(criteria), ":")
	if len(parts) < 5 {
		return nil, false
	}

	pkg := &entity.Package{
		Name:      parts[3] + "/" + parts[4],
		Ecosystem: "cpe",
		Platform:  parts[2],
	}

	if len(parts) > 5 {
		version := parts[5]
		if version != "" && version != cpeWildcard {
			pkg.Versions = append(pkg.Versions, &entity.Version{
				Version: version,
				Status:  entity.VersionAffected,
			})
			pkg.AffectedVersions = append(pkg.AffectedVersions, version)
		}
	}

	return pkg, true
}
