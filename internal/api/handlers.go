package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vulnforge/vulnforge/internal/risk"
	"github.com/vulnforge/vulnforge/internal/statestore"
)

// handleListVulnerabilities lists reconciled records with optional filters
// @Summary List vulnerabilities
// @Description List reconciled vulnerability records with optional filtering and pagination
// @Tags Vulnerabilities
// @Accept json
// @Produce json
// @Param source query string false "Filter by origin source (nvd, github, redhat, debian)"
// @Param severity query string false "Filter by severity (critical, high, medium, low)"
// @Param package query string false "Filter by affected package name"
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Pagination offset" default(0)
// @Success 200 {array} VulnerabilitySummary
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /vulnerabilities [get]
func (s *APIServer) handleListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filter := statestore.Filter{
		Source:      parseQueryParam(r, "source"),
		Severity:    parseQueryParam(r, "severity"),
		PackageName: parseQueryParam(r, "package"),
		Limit:       parseQueryParamInt(r, "limit", 100),
		Offset:      parseQueryParamInt(r, "offset", 0),
	}

	records, err := s.stateStore.ListVulnerabilities(r.Context(), filter)
	if err != nil {
		s.countRequest("list_vulnerabilities", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list vulnerabilities: %v", err))
		return
	}

	summaries := make([]VulnerabilitySummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, toVulnerabilitySummary(record))
	}

	s.countRequest("list_vulnerabilities", http.StatusOK)
	s.respondJSON(w, http.StatusOK, summaries)
}

// handleGetVulnerability retrieves one reconciled record by identifier
// @Summary Get vulnerability by identifier
// @Description Retrieve the full reconciled record for one vulnerability identifier
// @Tags Vulnerabilities
// @Accept json
// @Produce json
// @Param id path string true "Vulnerability identifier (e.g., CVE-2024-1234)"
// @Success 200 {object} entity.Vulnerability
// @Failure 400 {object} map[string]string "Invalid path"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Vulnerability not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /vulnerabilities/{id} [get]
func (s *APIServer) handleGetVulnerability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/vulnerabilities/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Vulnerability identifier is required")
		return
	}

	record, err := s.stateStore.GetVulnerability(r.Context(), id)
	if err != nil {
		if errors.Is(err, statestore.ErrVulnerabilityNotFound) {
			s.countRequest("get_vulnerability", http.StatusNotFound)
			s.respondError(w, http.StatusNotFound, "Vulnerability not found")
			return
		}
		s.countRequest("get_vulnerability", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get vulnerability: %v", err))
		return
	}

	s.countRequest("get_vulnerability", http.StatusOK)
	s.respondJSON(w, http.StatusOK, record)
}

// handleListPackages lists all package names with at least one vulnerability
// @Summary List packages
// @Description List all package names present in the reconciled corpus
// @Tags Packages
// @Accept json
// @Produce json
// @Success 200 {object} PackageListResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /packages [get]
func (s *APIServer) handleListPackages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	names, err := s.stateStore.ListPackageNames(r.Context())
	if err != nil {
		s.countRequest("list_packages", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list packages: %v", err))
		return
	}

	s.countRequest("list_packages", http.StatusOK)
	s.respondJSON(w, http.StatusOK, PackageListResponse{Packages: names, Total: len(names)})
}

// handlePackageRisk computes the risk assessment for one package
// @Summary Package risk assessment
// @Description Compute the risk score, level, and recommendation for a package, optionally narrowed to one version
// @Tags Packages
// @Accept json
// @Produce json
// @Param name path string true "Package name"
// @Param version query string false "Narrow the assessment to one installed version"
// @Success 200 {object} risk.Assessment
// @Failure 400 {object} map[string]string "Invalid path"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Package not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /packages/{name}/risk [get]
func (s *APIServer) handlePackageRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Path format: /api/v1/packages/{name}/risk. Package names may contain
	// slashes, so the operation suffix is matched from the end.
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/packages/")
	name, isRisk := strings.CutSuffix(path, "/risk")
	if !isRisk || name == "" {
		s.respondError(w, http.StatusBadRequest, "Invalid path, expected /api/v1/packages/{name}/risk")
		return
	}

	vulns, err := s.stateStore.GetVulnerabilitiesByPackage(r.Context(), name)
	if err != nil {
		s.countRequest("package_risk", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load package vulnerabilities: %v", err))
		return
	}
	if len(vulns) == 0 {
		s.countRequest("package_risk", http.StatusNotFound)
		s.respondError(w, http.StatusNotFound, "Package not found")
		return
	}

	var assessment *risk.Assessment
	if version := parseQueryParam(r, "version"); version != "" {
		assessment = risk.AssessVersion(name, version, vulns)
	} else {
		assessment = risk.Assess(name, vulns)
	}

	s.countRequest("package_risk", http.StatusOK)
	s.respondJSON(w, http.StatusOK, assessment)
}

// handleGetAnalysis returns the latest corpus analysis snapshot
// @Summary Get analysis snapshot
// @Description Return the latest description similarity clusters, relationship graph, and risk assessments
// @Tags Analysis
// @Accept json
// @Produce json
// @Success 200 {object} analyze.Snapshot
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "No analysis has completed yet"
// @Security BearerAuth
// @Router /analysis [get]
func (s *APIServer) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snapshot := s.analysis.Latest()
	if snapshot == nil {
		s.countRequest("get_analysis", http.StatusNotFound)
		s.respondError(w, http.StatusNotFound, "No analysis has completed yet")
		return
	}

	s.countRequest("get_analysis", http.StatusOK)
	s.respondJSON(w, http.StatusOK, snapshot)
}

// TriggerDiscoveryResponse represents the response for a triggered discovery cycle
type TriggerDiscoveryResponse struct {
	Status string `json:"status"`
}

// handleTriggerDiscovery runs one feed discovery cycle
// @Summary Trigger feed discovery
// @Description Run one discovery cycle over the advisory feed directory, enqueuing reconcile tasks for new and changed advisories
// @Tags Feed
// @Accept json
// @Produce json
// @Success 200 {object} TriggerDiscoveryResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /feed/discover [post]
func (s *APIServer) handleTriggerDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.watcher.Discover(r.Context()); err != nil {
		s.countRequest("trigger_discovery", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Discovery failed: %v", err))
		return
	}

	s.logger.Info("feed discovery triggered via API")
	s.countRequest("trigger_discovery", http.StatusOK)
	s.respondJSON(w, http.StatusOK, TriggerDiscoveryResponse{Status: "completed"})
}

// RunAnalysisResponse represents the response for a triggered analysis run
type RunAnalysisResponse struct {
	Status      string `json:"status"`
	RecordCount int    `json:"record_count"`
}

// handleRunAnalysis runs one corpus analysis pass immediately
// @Summary Run analysis
// @Description Run one analysis pass over the reconciled corpus immediately instead of waiting for the next interval
// @Tags Analysis
// @Accept json
// @Produce json
// @Success 200 {object} RunAnalysisResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /analysis/run [post]
func (s *APIServer) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.analysis.Run(r.Context()); err != nil {
		s.countRequest("run_analysis", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Analysis failed: %v", err))
		return
	}

	snapshot := s.analysis.Latest()
	response := RunAnalysisResponse{Status: "completed"}
	if snapshot != nil {
		response.RecordCount = snapshot.RecordCount
	}

	s.countRequest("run_analysis", http.StatusOK)
	s.respondJSON(w, http.StatusOK, response)
}

// ExportResponse represents the response for a triggered report export
type ExportResponse struct {
	Path    string `json:"path"`
	Records int    `json:"records"`
}

// handleExport writes a report of the full reconciled corpus to disk
// @Summary Export report
// @Description Write a JSON report of all reconciled records and the latest analysis snapshot to the export directory
// @Tags Export
// @Accept json
// @Produce json
// @Success 200 {object} ExportResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /export [post]
func (s *APIServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	vulns, err := s.stateStore.ListVulnerabilities(r.Context(), statestore.Filter{})
	if err != nil {
		s.countRequest("export", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load records: %v", err))
		return
	}

	path, err := s.exporter.Export(vulns, s.analysis.Latest())
	if err != nil {
		s.countRequest("export", http.StatusInternalServerError)
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
		return
	}

	s.countRequest("export", http.StatusOK)
	s.respondJSON(w, http.StatusOK, ExportResponse{Path: path, Records: len(vulns)})
}

// handleHealth provides health check endpoint
// @Summary Health check
// @Description Check the health status of the API server
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
