package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vulnforge/vulnforge/internal/entity"
	"github.com/vulnforge/vulnforge/internal/errors"
)

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite state store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Pragmas for concurrent access:
	// _foreign_keys=1: CASCADE DELETE keeps child tables consistent
	// mode=rwc: Read/Write/Create mode
	// _journal_mode=WAL: concurrent readers with a single writer
	// _busy_timeout=3000: wait up to 3 seconds for locks
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	// WAL mode supports one writer and multiple concurrent readers
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		db.Close()
		return nil, errors.NewTransientf("failed to check foreign keys status: %w", err)
	}
	if fkEnabled != 1 {
		db.Close()
		return nil, errors.NewTransientf("foreign keys are not enabled (got %d, expected 1)", fkEnabled)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vulnerabilities (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		title TEXT,
		description TEXT,
		severity TEXT,
		status TEXT,
		scope TEXT,
		published_at INTEGER,
		last_modified_at INTEGER,
		discovered_at INTEGER,
		cvss_v2_json TEXT,
		cvss_v3_json TEXT,
		notes_json TEXT,
		raw_json TEXT,
		updated_at INTEGER NOT NULL DEFAULT (cast(strftime('%s', 'now') as integer))
	);

	CREATE TABLE IF NOT EXISTS packages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vulnerability_id TEXT NOT NULL,
		name TEXT NOT NULL,
		ecosystem TEXT,
		platform TEXT,
		versions_json TEXT,
		affected_versions_json TEXT,
		fixed_versions_json TEXT,
		FOREIGN KEY (vulnerability_id) REFERENCES vulnerabilities(id) ON DELETE CASCADE,
		UNIQUE(vulnerability_id, name)
	);

	CREATE TABLE IF NOT EXISTS vulnerability_references (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vulnerability_id TEXT NOT NULL,
		url TEXT NOT NULL,
		source TEXT,
		type TEXT,
		tags_json TEXT,
		FOREIGN KEY (vulnerability_id) REFERENCES vulnerabilities(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS patches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		vulnerability_id TEXT NOT NULL,
		url TEXT NOT NULL,
		source TEXT,
		description TEXT,
		FOREIGN KEY (vulnerability_id) REFERENCES vulnerabilities(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_vulnerabilities_source ON vulnerabilities(source);
	CREATE INDEX IF NOT EXISTS idx_vulnerabilities_severity ON vulnerabilities(severity);
	CREATE INDEX IF NOT EXISTS idx_vulnerabilities_modified ON vulnerabilities(last_modified_at);
	CREATE INDEX IF NOT EXISTS idx_packages_vulnerability ON packages(vulnerability_id);
	CREATE INDEX IF NOT EXISTS idx_packages_name ON packages(name);
	CREATE INDEX IF NOT EXISTS idx_references_vulnerability ON vulnerability_references(vulnerability_id);
	CREATE INDEX IF NOT EXISTS idx_patches_vulnerability ON patches(vulnerability_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// UpsertVulnerability stores a record in a transaction, replacing any
// previous row and child rows for the same id.
func (s *SQLiteStore) UpsertVulnerability(ctx context.Context, vuln *entity.Vulnerability) error {
	if vuln == nil || vuln.ID == "" {
		return errors.NewPermanentf("upsert without id: %w", errors.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cvssV2, err := marshalNullable(vuln.CVSSv2)
	if err != nil {
		return errors.NewPermanentf("failed to marshal cvss v2: %w", err)
	}
	cvssV3, err := marshalNullable(vuln.CVSSv3)
	if err != nil {
		return errors.NewPermanentf("failed to marshal cvss v3: %w", err)
	}
	notes, err := json.Marshal(vuln.Notes)
	if err != nil {
		return errors.NewPermanentf("failed to marshal notes: %w", err)
	}
	rawData, err := json.Marshal(vuln.RawData)
	if err != nil {
		return errors.NewPermanentf("failed to marshal raw data: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vulnerabilities (
			id, source, title, description, severity, status, scope,
			published_at, last_modified_at, discovered_at,
			cvss_v2_json, cvss_v3_json, notes_json, raw_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			description = excluded.description,
			severity = excluded.severity,
			status = excluded.status,
			scope = excluded.scope,
			published_at = excluded.published_at,
			last_modified_at = excluded.last_modified_at,
			discovered_at = excluded.discovered_at,
			cvss_v2_json = excluded.cvss_v2_json,
			cvss_v3_json = excluded.cvss_v3_json,
			notes_json = excluded.notes_json,
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at
	`,
		vuln.ID, vuln.Source, vuln.Title, vuln.Description, vuln.Severity, vuln.Status, vuln.Scope,
		unixOrZero(vuln.PublishedDate), unixOrZero(vuln.LastModifiedDate), unixOrZero(vuln.DiscoveredDate),
		cvssV2, cvssV3, string(notes), string(rawData), time.Now().Unix(),
	)
	if err != nil {
		return errors.NewTransientf("failed to upsert vulnerability: %w", err)
	}

	// Child rows are replaced wholesale; the merged record is the truth
	for _, table := range []string{"packages", "vulnerability_references", "patches"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE vulnerability_id = ?", vuln.ID); err != nil {
			return errors.NewTransientf("failed to clear %s: %w", table, err)
		}
	}

	for _, pkg := range vuln.Packages {
		versions, err := json.Marshal(pkg.Versions)
		if err != nil {
			return errors.NewPermanentf("failed to marshal versions: %w", err)
		}
		affected, err := json.Marshal(pkg.AffectedVersions)
		if err != nil {
			return errors.NewPermanentf("failed to marshal affected versions: %w", err)
		}
		fixed, err := json.Marshal(pkg.FixedVersions)
		if err != nil {
			return errors.NewPermanentf("failed to marshal fixed versions: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO packages (
				vulnerability_id, name, ecosystem, platform,
				versions_json, affected_versions_json, fixed_versions_json
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, vuln.ID, pkg.Name, pkg.Ecosystem, pkg.Platform, string(versions), string(affected), string(fixed))
		if err != nil {
			return errors.NewTransientf("failed to insert package: %w", err)
		}
	}

	for _, ref := range vuln.References {
		tags, err := json.Marshal(ref.Tags)
		if err != nil {
			return errors.NewPermanentf("failed to marshal reference tags: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vulnerability_references (vulnerability_id, url, source, type, tags_json)
			VALUES (?, ?, ?, ?, ?)
		`, vuln.ID, ref.URL, ref.Source, ref.Type, string(tags))
		if err != nil {
			return errors.NewTransientf("failed to insert reference: %w", err)
		}
	}

	for _, patch := range vuln.Patches {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patches (vulnerability_id, url, source, description)
			VALUES (?, ?, ?, ?)
		`, vuln.ID, patch.URL, patch.Source, patch.Description)
		if err != nil {
			return errors.NewTransientf("failed to insert patch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetVulnerability retrieves one record with all child rows
func (s *SQLiteStore) GetVulnerability(ctx context.Context, id string) (*entity.Vulnerability, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, title, description, severity, status, scope,
			published_at, last_modified_at, discovered_at,
			cvss_v2_json, cvss_v3_json, notes_json, raw_json
		FROM vulnerabilities
		WHERE id = ?
	`, id)

	vuln, err := scanVulnerability(row)
	if err == sql.ErrNoRows {
		return nil, ErrVulnerabilityNotFound
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query vulnerability: %w", err)
	}

	if err := s.loadChildren(ctx, vuln); err != nil {
		return nil, err
	}
	return vuln, nil
}

// ListVulnerabilities returns records matching the filter, most recently
// modified first. Child rows are loaded per record.
func (s *SQLiteStore) ListVulnerabilities(ctx context.Context, filter Filter) ([]*entity.Vulnerability, error) {
	query := `
		SELECT DISTINCT v.id, v.source, v.title, v.description, v.severity, v.status, v.scope,
			v.published_at, v.last_modified_at, v.discovered_at,
			v.cvss_v2_json, v.cvss_v3_json, v.notes_json, v.raw_json
		FROM vulnerabilities v
	`
	args := []interface{}{}

	if filter.PackageName != "" {
		query += " JOIN packages p ON p.vulnerability_id = v.id"
	}
	query += " WHERE 1=1"

	if filter.Source != "" {
		query += " AND v.source = ?"
		args = append(args, filter.Source)
	}
	if filter.Severity != "" {
		query += " AND v.severity = ?"
		args = append(args, filter.Severity)
	}
	if filter.PackageName != "" {
		query += " AND p.name = ?"
		args = append(args, filter.PackageName)
	}

	query += " ORDER BY v.last_modified_at DESC, v.id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to list vulnerabilities: %w", err)
	}
	defer rows.Close()

	var vulns []*entity.Vulnerability
	for rows.Next() {
		vuln, err := scanVulnerability(rows)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan row: %w", err)
		}
		vulns = append(vulns, vuln)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating rows: %w", err)
	}

	for _, vuln := range vulns {
		if err := s.loadChildren(ctx, vuln); err != nil {
			return nil, err
		}
	}
	return vulns, nil
}

// GetVulnerabilitiesByPackage returns all records whose package list
// contains the given name.
func (s *SQLiteStore) GetVulnerabilitiesByPackage(ctx context.Context, packageName string) ([]*entity.Vulnerability, error) {
	return s.ListVulnerabilities(ctx, Filter{PackageName: packageName})
}

// ListPackageNames returns all distinct affected package names
func (s *SQLiteStore) ListPackageNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM packages ORDER BY name ASC`)
	if err != nil {
		return nil, errors.NewTransientf("failed to list package names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewTransientf("failed to scan package name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating rows: %w", err)
	}
	return names, nil
}

// CountVulnerabilities returns the total number of stored records
func (s *SQLiteStore) CountVulnerabilities(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vulnerabilities`).Scan(&count); err != nil {
		return 0, errors.NewTransientf("failed to count vulnerabilities: %w", err)
	}
	return count, nil
}

// Ping verifies the database is reachable, used by health checks
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewTransientf("database ping failed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVulnerability(row rowScanner) (*entity.Vulnerability, error) {
	var vuln entity.Vulnerability
	var published, lastModified, discovered int64
	var cvssV2, cvssV3 sql.NullString
	var notes, rawData sql.NullString

	err := row.Scan(
		&vuln.ID, &vuln.Source, &vuln.Title, &vuln.Description, &vuln.Severity, &vuln.Status, &vuln.Scope,
		&published, &lastModified, &discovered,
		&cvssV2, &cvssV3, &notes, &rawData,
	)
	if err != nil {
		return nil, err
	}

	vuln.PublishedDate = timeOrZero(published)
	vuln.LastModifiedDate = timeOrZero(lastModified)
	vuln.DiscoveredDate = timeOrZero(discovered)

	if cvssV2.Valid && cvssV2.String != "" {
		var m entity.CVSSMetrics
		if err := json.Unmarshal([]byte(cvssV2.String), &m); err == nil {
			vuln.CVSSv2 = &m
		}
	}
	if cvssV3.Valid && cvssV3.String != "" {
		var m entity.CVSSMetrics
		if err := json.Unmarshal([]byte(cvssV3.String), &m); err == nil {
			vuln.CVSSv3 = &m
		}
	}
	if notes.Valid && notes.String != "" {
		_ = json.Unmarshal([]byte(notes.String), &vuln.Notes)
	}
	if rawData.Valid && rawData.String != "" {
		_ = json.Unmarshal([]byte(rawData.String), &vuln.RawData)
	}

	return &vuln, nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, vuln *entity.Vulnerability) error {
	pkgRows, err := s.db.QueryContext(ctx, `
		SELECT name, ecosystem, platform, versions_json, affected_versions_json, fixed_versions_json
		FROM packages
		WHERE vulnerability_id = ?
		ORDER BY id ASC
	`, vuln.ID)
	if err != nil {
		return errors.NewTransientf("failed to query packages: %w", err)
	}
	defer pkgRows.Close()

	for pkgRows.Next() {
		var pkg entity.Package
		var versions, affected, fixed sql.NullString
		if err := pkgRows.Scan(&pkg.Name, &pkg.Ecosystem, &pkg.Platform, &versions, &affected, &fixed); err != nil {
			return errors.NewTransientf("failed to scan package: %w", err)
		}
		if versions.Valid && versions.String != "" {
			_ = json.Unmarshal([]byte(versions.String), &pkg.Versions)
		}
		if affected.Valid && affected.String != "" {
			_ = json.Unmarshal([]byte(affected.String), &pkg.AffectedVersions)
		}
		if fixed.Valid && fixed.String != "" {
			_ = json.Unmarshal([]byte(fixed.String), &pkg.FixedVersions)
		}
		vuln.Packages = append(vuln.Packages, &pkg)
	}
	if err := pkgRows.Err(); err != nil {
		return errors.NewTransientf("error iterating package rows: %w", err)
	}

	refRows, err := s.db.QueryContext(ctx, `
		SELECT url, source, type, tags_json
		FROM vulnerability_references
		WHERE vulnerability_id = ?
		ORDER BY id ASC
	`, vuln.ID)
	if err != nil {
		return errors.NewTransientf("failed to query references: %w", err)
	}
	defer refRows.Close()

	for refRows.Next() {
		var ref entity.Reference
		var tags sql.NullString
		if err := refRows.Scan(&ref.URL, &ref.Source, &ref.Type, &tags); err != nil {
			return errors.NewTransientf("failed to scan reference: %w", err)
		}
		if tags.Valid && tags.String != "" {
			_ = json.Unmarshal([]byte(tags.String), &ref.Tags)
		}
		vuln.References = append(vuln.References, &ref)
	}
	if err := refRows.Err(); err != nil {
		return errors.NewTransientf("error iterating reference rows: %w", err)
	}

	patchRows, err := s.db.QueryContext(ctx, `
		SELECT url, source, description
		FROM patches
		WHERE vulnerability_id = ?
		ORDER BY id ASC
	`, vuln.ID)
	if err != nil {
		return errors.NewTransientf("failed to query patches: %w", err)
	}
	defer patchRows.Close()

	for patchRows.Next() {
		var patch entity.Patch
		if err := patchRows.Scan(&patch.URL, &patch.Source, &patch.Description); err != nil {
			return errors.NewTransientf("failed to scan patch: %w", err)
		}
		vuln.Patches = append(vuln.Patches, &patch)
	}
	if err := patchRows.Err(); err != nil {
		return errors.NewTransientf("error iterating patch rows: %w", err)
	}

	return nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	if m, ok := v.(*entity.CVSSMetrics); ok && m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
