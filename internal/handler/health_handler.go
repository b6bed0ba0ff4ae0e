package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HealthChecker defines the interface for checking the optional snapshot database health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CircuitBreakerChecker reports whether an external dependency's circuit breaker is open.
type CircuitBreakerChecker interface {
	IsOpen() bool
}

// SessionStoreInspector reports Session Store size for health/diagnostics.
type SessionStoreInspector interface {
	Len() int
}

// ReadinessChecker reports whether the process should keep accepting new
// carrier-facing traffic, typically backed by the shutdown coordinator's
// readiness probe so /ready flips during a drain before /initiate is pulled
// from the load balancer.
type ReadinessChecker interface {
	IsReady() bool
}

// HealthHandler handles health, readiness, and liveness HTTP requests.
type HealthHandler struct {
	snapshotChecker HealthChecker
	carrierBreaker  CircuitBreakerChecker
	sessionStore    SessionStoreInspector
	readiness       ReadinessChecker
	logger          *zap.Logger
}

// HealthHandlerConfig holds configuration for HealthHandler.
type HealthHandlerConfig struct {
	SnapshotChecker HealthChecker
	CarrierBreaker  CircuitBreakerChecker
	SessionStore    SessionStoreInspector
	Readiness       ReadinessChecker
	Logger          *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with all required dependencies.
func NewHealthHandler(cfg HealthHandlerConfig) *HealthHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &HealthHandler{
		snapshotChecker: cfg.SnapshotChecker,
		carrierBreaker:  cfg.CarrierBreaker,
		sessionStore:    cfg.SessionStore,
		readiness:       cfg.Readiness,
		logger:          cfg.Logger,
	}
}

// RegisterRoutes registers health routes on the router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReadiness)
	r.Get("/live", h.HandleLiveness)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string                     `json:"status"`
	Checks map[string]ComponentHealth `json:"checks,omitempty"`
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth returns a health check response including all service dependencies.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status: "ok",
		Checks: make(map[string]ComponentHealth),
	}

	hasDegradation := false

	if h.snapshotChecker != nil {
		if err := h.snapshotChecker.Ping(ctx); err != nil {
			hasDegradation = true
			response.Checks["snapshot"] = ComponentHealth{Status: "degraded", Message: err.Error()}
			h.logger.Warn("snapshot database health check failed", zap.Error(err))
		} else {
			response.Checks["snapshot"] = ComponentHealth{Status: "healthy"}
		}
	}

	if h.carrierBreaker != nil {
		if h.carrierBreaker.IsOpen() {
			hasDegradation = true
			response.Checks["carrier"] = ComponentHealth{
				Status:  "degraded",
				Message: "circuit breaker open - carrier temporarily unavailable",
			}
			h.logger.Warn("carrier circuit breaker is open")
		} else {
			response.Checks["carrier"] = ComponentHealth{Status: "healthy"}
		}
	}

	if h.sessionStore != nil {
		response.Checks["session_store"] = ComponentHealth{Status: "healthy"}
	}

	if hasDegradation {
		response.Status = "degraded"
	}

	if reqID := GetRequestIDFromContext(r.Context()); reqID != "" {
		w.Header().Set("X-Request-ID", reqID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := encodeJSON(w, response); err != nil {
		h.logger.Debug("failed to write health response", zap.Error(err))
	}
}

// HandleReadiness reports whether the process is ready for new traffic. Once
// the shutdown coordinator starts draining, the readiness probe flips and
// this starts returning 503 so a load balancer stops routing /initiate here.
// /callback and /status are reached directly by the carrier, not through the
// balancer's readiness gate; they are served until the drain phase's server
// shutdown closes the listener, after which only in-flight requests finish.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.readiness != nil && !h.readiness.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// HandleLiveness returns a simple liveness probe response.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
