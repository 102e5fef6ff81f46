package api

import (
	"deploybuild/internal/build"
	"deploybuild/internal/health"
	"deploybuild/internal/observability"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	BuildService  *build.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	Info          ServerInfo
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.BuildService, cfg.HealthChecker, cfg.Info)

	mux := http.NewServeMux()

	// Probes - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	mux.Handle("GET /v1/status", auth(http.HandlerFunc(handler.Status)))
	mux.Handle("POST /v1/builds/deployables", auth(http.HandlerFunc(handler.BuildDeployables)))
	mux.Handle("POST /v1/builds/helm", auth(http.HandlerFunc(handler.BuildHelm)))
	mux.Handle("GET /v1/deployables", auth(http.HandlerFunc(handler.ListDeployables)))
	mux.Handle("GET /v1/deployables/{dt}/targets", auth(http.HandlerFunc(handler.ListTargets)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
