// Package clean sanitizes canonical vulnerability records in place. Every
// transformation is idempotent so records can pass through the pipeline any
// number of times.
package clean

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/vulnforge/vulnforge/internal/entity"
)

var (
	markupPattern     = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Clean sanitizes the record's fields and returns the same record
func Clean(v *entity.Vulnerability) *entity.Vulnerability {
	if v == nil {
		return nil
	}

	v.Title = Text(v.Title)
	v.Description = Text(v.Description)
	v.References = cleanReferences(v.References)
	v.Packages = cleanPackages(v.Packages)
	v.Patches = cleanPatches(v.Patches)
	v.Notes = cleanNotes(v.Notes)

	return v
}

// Text strips markup tags, collapses runs of whitespace to single spaces,
// and drops non-printable characters.
func Text(s string) string {
	s = markupPattern.ReplaceAllString(s, " ")
	// Drop non-printables before collapsing so a dropped rune between two
	// spaces cannot leave a double space behind.
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\f', '\r':
			return r
		}
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// URL canonicalizes a reference URL: trim, strip trailing slashes, and
// default the scheme to https. Plain http URLs normalize to https so the
// same link from two sources deduplicates.
func URL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimRight(u, "/")
	if u == "" {
		return ""
	}
	if strings.HasPrefix(u, "http://") {
		u = "https://" + strings.TrimPrefix(u, "http://")
	} else if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	return u
}

// cleanReferences drops empty URLs and deduplicates by normalized URL,
// keeping the first occurrence's metadata.
func cleanReferences(refs []*entity.Reference) []*entity.Reference {
	if len(refs) == 0 {
		return refs
	}
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		url := URL(ref.URL)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		ref.URL = url
		out = append(out, ref)
	}
	return out
}

func cleanPackages(pkgs []*entity.Package) []*entity.Package {
	if len(pkgs) == 0 {
		return pkgs
	}
	byName := make(map[string]*entity.Package, len(pkgs))
	out := pkgs[:0]
	for _, pkg := range pkgs {
		pkg.Name = strings.ToLower(strings.TrimSpace(pkg.Name))
		pkg.Ecosystem = strings.ToLower(strings.TrimSpace(pkg.Ecosystem))
		if pkg.Name == "" {
			continue
		}
		existing, dup := byName[pkg.Name]
		if dup {
			// Lower-casing can collapse two entries into one name
			existing.Versions = append(existing.Versions, pkg.Versions...)
			existing.AffectedVersions = append(existing.AffectedVersions, pkg.AffectedVersions...)
			existing.FixedVersions = append(existing.FixedVersions, pkg.FixedVersions...)
			continue
		}
		byName[pkg.Name] = pkg
		out = append(out, pkg)
	}
	for _, pkg := range out {
		pkg.Versions = dedupVersions(pkg.Versions)
		pkg.AffectedVersions = dedupStrings(pkg.AffectedVersions)
		pkg.FixedVersions = dedupStrings(pkg.FixedVersions)
	}
	return out
}

// dedupVersions keeps the first entry per trimmed version string
func dedupVersions(versions []*entity.Version) []*entity.Version {
	if len(versions) == 0 {
		return versions
	}
	seen := make(map[string]bool, len(versions))
	out := versions[:0]
	for _, v := range versions {
		v.Version = strings.TrimSpace(v.Version)
		if seen[v.Version] {
			continue
		}
		seen[v.Version] = true
		out = append(out, v)
	}
	return out
}

// dedupStrings applies set semantics, dropping blank entries and keeping
// first-occurrence order.
func dedupStrings(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}

func cleanPatches(patches []*entity.Patch) []*entity.Patch {
	if len(patches) == 0 {
		return patches
	}
	seen := make(map[string]bool, len(patches))
	out := patches[:0]
	for _, patch := range patches {
		patch.URL = URL(patch.URL)
		if patch.URL == "" || seen[patch.URL] {
			continue
		}
		seen[patch.URL] = true
		out = append(out, patch)
	}
	return out
}

func cleanNotes(notes []string) []string {
	if len(notes) == 0 {
		return notes
	}
	out := notes[:0]
	for _, note := range notes {
		note = strings.TrimSpace(note)
		if note == "" {
			continue
		}
		out = append(out, note)
	}
	return out
}
