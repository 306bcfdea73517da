package statestore

import (
	"context"
	"errors"

	"github.com/vulnforge/vulnforge/internal/entity"
)

// ErrVulnerabilityNotFound is returned when no record exists for an id
var ErrVulnerabilityNotFound = errors.New("vulnerability not found")

// Filter narrows vulnerability listings
type Filter struct {
	Source      string
	Severity    string
	PackageName string
	Limit       int
	Offset      int
}

// StateStore persists canonical vulnerability records. Writes follow an
// upsert-by-identifier contract: persisting an id that already exists
// replaces the whole record and its children atomically.
type StateStore interface {
	// UpsertVulnerability stores a reconciled record, replacing any
	// previous state for the same id
	UpsertVulnerability(ctx context.Context, vuln *entity.Vulnerability) error

	// GetVulnerability retrieves one record by id
	GetVulnerability(ctx context.Context, id string) (*entity.Vulnerability, error)

	// ListVulnerabilities returns records matching the filter
	ListVulnerabilities(ctx context.Context, filter Filter) ([]*entity.Vulnerability, error)

	// GetVulnerabilitiesByPackage returns the records affecting a package
	GetVulnerabilitiesByPackage(ctx context.Context, packageName string) ([]*entity.Vulnerability, error)

	// ListPackageNames returns all distinct affected package names
	ListPackageNames(ctx context.Context) ([]string, error)

	// CountVulnerabilities returns the total number of stored records
	CountVulnerabilities(ctx context.Context) (int, error)

	// Close releases the underlying resources
	Close() error
}
