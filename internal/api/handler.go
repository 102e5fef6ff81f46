// Package api provides the HTTP API handlers and routing for the build service.
package api

import (
	"deploybuild/internal/apperrors"
	"deploybuild/internal/build"
	"deploybuild/internal/health"
	"encoding/json"
	"log/slog"
	"net/http"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// ServerInfo describes this server for GET /v1/status.
type ServerInfo struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Root     string   `json:"att_root"`
	Runner   string   `json:"runner"`
	Features []string `json:"features"`
}

// Handler contains HTTP handlers for the build API
type Handler struct {
	svc    *build.Service
	health *health.Checker
	info   ServerInfo
}

// NewHandler creates a new API handler
func NewHandler(svc *build.Service, healthChecker *health.Checker, info ServerInfo) *Handler {
	return &Handler{
		svc:    svc,
		health: healthChecker,
		info:   info,
	}
}

// buildRequest is the body of POST /v1/builds/deployables.
type buildRequest struct {
	DTList        []string        `json:"dt_list"`
	MaxConcurrent int             `json:"max_concurrent,omitempty"`
	Callback      *build.Callback `json:"callback,omitempty"`
}

func (r buildRequest) options() build.Options {
	return build.Options{MaxConcurrent: r.MaxConcurrent, Callback: r.Callback}
}

// helmRequest is the body of POST /v1/builds/helm.
type helmRequest struct {
	buildRequest
	Region  string `json:"region"`
	Env     string `json:"env_name"`
	Cluster string `json:"cluster_name"`
}

// BuildDeployables handles POST /v1/builds/deployables
func (h *Handler) BuildDeployables(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.svc.BuildDeployables(r.Context(), req.DTList, req.options())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report.Summary())
}

// BuildHelm handles POST /v1/builds/helm
func (h *Handler) BuildHelm(w http.ResponseWriter, r *http.Request) {
	var req helmRequest
	if !h.decode(w, r, &req) {
		return
	}

	target := build.Target{Region: req.Region, Env: req.Env, Cluster: req.Cluster}
	report, err := h.svc.BuildHelmDeployables(r.Context(), req.DTList, target, req.options())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report.Summary())
}

// ListDeployables handles GET /v1/deployables
func (h *Handler) ListDeployables(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Deployables(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"deployables": names})
}

// ListTargets handles GET /v1/deployables/{dt}/targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	dt := r.PathValue("dt")
	if dt == "" {
		h.writeError(w, http.StatusBadRequest, "Deployable is required")
		return
	}

	targets, err := h.svc.Targets(r.Context(), dt)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"dt": dt, "targets": targets})
}

// Status handles GET /v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.info)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the checkout, runner, or artifact store is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
