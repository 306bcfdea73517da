package normalize

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// Source names dispatched by the registry
const (
	SourceNVD    = "nvd"
	SourceGitHub = "github"
	SourceRedHat = "redhat"
	SourceDebian = "debian"
)

// Normalizer maps one raw source record into the canonical entity model.
// A record without an identifier fails with ErrMalformedRecord; every other
// missing field degrades to its zero value.
type Normalizer interface {
	Source() string
	Normalize(raw json.RawMessage) (*entity.Vulnerability, error)
}

// Registry dispatches raw records to the normalizer matching their source tag
type Registry struct {
	normalizers map[string]Normalizer
}

// NewRegistry creates a registry with all built-in source normalizers
func NewRegistry() *Registry {
	r := &Registry{normalizers: make(map[string]Normalizer)}
	r.Register(&NVDNormalizer{})
	r.Register(&GitHubNormalizer{})
	r.Register(&RedHatNormalizer{})
	r.Register(&DebianNormalizer{})
	return r
}

// Register adds a normalizer, replacing any previous one for the same source
func (r *Registry) Register(n Normalizer) {
	r.normalizers[n.Source()] = n
}

// Lookup returns the normalizer for a source name
func (r *Registry) Lookup(source string) (Normalizer, error) {
	n, ok := r.normalizers[strings.ToLower(strings.TrimSpace(source))]
	if !ok {
		return nil, errors.NewPermanentf("no normalizer for source %q: %w", source, errors.ErrInvalidInput)
	}
	return n, nil
}

// Sources returns the registered source names in sorted order
func (r *Registry) Sources() []string {
	names := make([]string, 0, len(r.normalizers))
	for name := range r.normalizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseTime tries the layouts advisory feeds actually use. A date that
// matches none of them degrades to the zero time.
func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// rawPayload decodes the record into a map for the audit trail. Decoding
// failures leave the payload nil rather than failing normalization.
func rawPayload(raw json.RawMessage) map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
