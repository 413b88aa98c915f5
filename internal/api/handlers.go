package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/anstrom/nscan/internal/errors"
)

// ScanRequest is the body of POST /api/v1/scans.
type ScanRequest struct {
	Target     string `json:"target" validate:"required,max=253"`
	Ports      string `json:"ports,omitempty" validate:"omitempty,max=11"`
	TimeoutMS  int    `json:"timeout_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	Strategy   string `json:"strategy,omitempty"`
	Multiplier int    `json:"multiplier,omitempty" validate:"omitempty,min=1,max=64"`
}

// ScanListResponse is returned by GET /api/v1/scans.
type ScanListResponse struct {
	Scans []JobView `json:"scans"`
	Total int       `json:"total"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	ActiveScans int       `json:"active_scans"`
	Capacity    int       `json:"capacity"`
}

// VersionResponse is returned by GET /api/v1/version.
type VersionResponse struct {
	Version   string    `json:"version"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

// healthHandler reports liveness and scan slot usage.
//
// @Summary Health check
// @Description Returns service health, uptime and scan slot usage
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		ActiveScans: s.jobs.Active(),
		Capacity:    s.jobs.Capacity(),
	})
}

// @Summary Version information
// @Description Returns the running version
// @Tags System
// @Produce json
// @Success 200 {object} VersionResponse
// @Router /version [get]
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, VersionResponse{
		Version:   s.version,
		Service:   "nscan",
		Timestamp: time.Now().UTC(),
	})
}

// createScanHandler validates the request and starts a background scan.
//
// @Summary Start a scan
// @Description Resolves the target and starts a background TCP connect scan
// @Tags Scans
// @Accept json
// @Produce json
// @Param request body ScanRequest true "Scan request"
// @Success 202 {object} JobView
// @Failure 400 {object} ErrorResponse
// @Failure 415 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /scans [post]
func (s *Server) createScanHandler(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := s.ParseJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.validate.Struct(&req); err != nil {
		s.writeError(w, r, errors.WrapScanError(errors.CodeValidation, "request validation failed", err))
		return
	}

	job, err := s.jobs.Submit(r.Context(), JobSpec{
		Target:     req.Target,
		Ports:      req.Ports,
		Timeout:    time.Duration(req.TimeoutMS) * time.Millisecond,
		Strategy:   req.Strategy,
		Multiplier: req.Multiplier,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/scans/"+job.ID.String())
	s.WriteJSON(w, r, http.StatusAccepted, job.View())
}

// @Summary List scans
// @Description Lists every submitted scan in submission order
// @Tags Scans
// @Produce json
// @Success 200 {object} ScanListResponse
// @Router /scans [get]
func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, job.View())
	}
	s.WriteJSON(w, r, http.StatusOK, ScanListResponse{Scans: views, Total: len(views)})
}

// @Summary Get a scan
// @Description Returns status, progress and open ports of one scan
// @Tags Scans
// @Produce json
// @Param id path string true "Scan ID"
// @Success 200 {object} JobView
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /scans/{id} [get]
func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.WriteJSON(w, r, http.StatusOK, job.View())
}
