package clean

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vulnforge/vulnforge/internal/entity"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"markup stripped", "A <b>critical</b> flaw", "A critical flaw"},
		{"whitespace collapsed", "too   many\n\twhitespaces", "too many whitespaces"},
		{"trimmed", "  padded  ", "padded"},
		{"control characters dropped", "bell\x07 and null\x00 bytes", "bell and null bytes"},
		{"already clean", "nothing to do here", "nothing to do here"},
		{"version ranges untouched", ">= 4.0.0, < 4.17.21", ">= 4.0.0, < 4.17.21"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com/a", "https://example.com/a"},
		{"http://example.com/a", "https://example.com/a"},
		{"https://example.com/a/", "https://example.com/a"},
		{"https://example.com/a//", "https://example.com/a"},
		{"https://example.com/a///", "https://example.com/a"},
		{" https://example.com/a ", "https://example.com/a"},
		{"ftp://example.com/a", "ftp://example.com/a"},
		{"", ""},
		{"/", ""},
	}

	for _, tt := range tests {
		if got := URL(tt.in); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanReferenceDedup(t *testing.T) {
	v := &entity.Vulnerability{
		ID: "CVE-2024-0001",
		References: []*entity.Reference{
			{URL: "example.com/a", Source: "first"},
			{URL: "http://example.com/a", Source: "second"},
			{URL: "https://example.com/a//", Source: "third"},
			{URL: ""},
		},
	}

	Clean(v)

	if len(v.References) != 1 {
		t.Fatalf("references = %d, want 1", len(v.References))
	}
	if v.References[0].URL != "https://example.com/a" {
		t.Errorf("url = %q", v.References[0].URL)
	}
	// First occurrence keeps its metadata
	if v.References[0].Source != "first" {
		t.Errorf("source = %q, want first", v.References[0].Source)
	}
}

func TestCleanPackages(t *testing.T) {
	v := &entity.Vulnerability{
		ID: "CVE-2024-0002",
		Packages: []*entity.Package{
			{
				Name:      "  OpenSSL ",
				Ecosystem: " Debian",
				Versions: []*entity.Version{
					{Version: "1.1.1 "},
					{Version: "1.1.1"},
					{Version: "3.0.0"},
				},
				AffectedVersions: []string{"1.1.1", "", "1.1.1", "3.0.0"},
				FixedVersions:    []string{" 3.0.1", "3.0.1"},
			},
			{Name: "openssl", AffectedVersions: []string{"1.0.2"}},
			{Name: ""},
		},
	}

	Clean(v)

	if len(v.Packages) != 1 {
		t.Fatalf("packages = %d, want 1 after case-folding merge", len(v.Packages))
	}
	pkg := v.Packages[0]
	if pkg.Name != "openssl" || pkg.Ecosystem != "debian" {
		t.Errorf("package identity = %q/%q", pkg.Name, pkg.Ecosystem)
	}
	if len(pkg.Versions) != 2 {
		t.Errorf("versions = %d, want 2", len(pkg.Versions))
	}
	want := []string{"1.1.1", "3.0.0", "1.0.2"}
	if !reflect.DeepEqual(pkg.AffectedVersions, want) {
		t.Errorf("affected = %v, want %v", pkg.AffectedVersions, want)
	}
	if !reflect.DeepEqual(pkg.FixedVersions, []string{"3.0.1"}) {
		t.Errorf("fixed = %v", pkg.FixedVersions)
	}
}

func TestCleanPatchesAndNotes(t *testing.T) {
	v := &entity.Vulnerability{
		ID: "CVE-2024-0003",
		Patches: []*entity.Patch{
			{URL: "example.com/fix"},
			{URL: "https://example.com/fix/"},
			{URL: ""},
		},
		Notes: []string{" keep me ", "", "   "},
	}

	Clean(v)

	if len(v.Patches) != 1 || v.Patches[0].URL != "https://example.com/fix" {
		t.Errorf("patches = %+v", v.Patches)
	}
	if !reflect.DeepEqual(v.Notes, []string{"keep me"}) {
		t.Errorf("notes = %v", v.Notes)
	}
}

func TestCleanNil(t *testing.T) {
	if Clean(nil) != nil {
		t.Error("Clean(nil) must return nil")
	}
}

func TestCleanIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// URLs get 0..3 trailing slashes appended so canonicalization has to
	// strip them all in one pass to stay idempotent.
	genURL := gopter.CombineGens(
		gen.AnyString(),
		gen.IntRange(0, 3),
	).Map(func(values []interface{}) string {
		return values[0].(string) + strings.Repeat("/", values[1].(int))
	})

	genVuln := gopter.CombineGens(
		gen.AlphaString(),
		gen.AnyString(),
		gen.SliceOf(genURL),
		gen.SliceOf(gen.AlphaString()),
	).Map(func(values []interface{}) *entity.Vulnerability {
		v := &entity.Vulnerability{
			ID:          "CVE-2024-1000",
			Title:       values[0].(string),
			Description: values[1].(string),
		}
		for _, url := range values[2].([]string) {
			v.References = append(v.References, &entity.Reference{URL: url})
		}
		for _, note := range values[3].([]string) {
			v.Notes = append(v.Notes, note)
		}
		return v
	})

	properties.Property("cleaning twice equals cleaning once", prop.ForAll(
		func(v *entity.Vulnerability) bool {
			once := Clean(v)
			snapshot := cloneForCompare(once)
			twice := Clean(once)
			return reflect.DeepEqual(snapshot, cloneForCompare(twice))
		},
		genVuln,
	))

	properties.TestingRun(t)
}

func cloneForCompare(v *entity.Vulnerability) *entity.Vulnerability {
	clone := *v
	clone.References = make([]*entity.Reference, len(v.References))
	for i, ref := range v.References {
		r := *ref
		clone.References[i] = &r
	}
	clone.Notes = append([]string(nil), v.Notes...)
	return &clone
}
