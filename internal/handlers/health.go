// Package handlers exposes the guardian's local status server: health probes,
// the tab's session state and alert controls, and prometheus metrics.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/config"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/constants"
)

const (
	// HealthCheckTimeout is the default timeout for health check operations.
	HealthCheckTimeout = 5 * time.Second
	// SlowBackendThreshold marks a reachable but sluggish sync backend as degraded.
	SlowBackendThreshold = time.Second
	// RoutePrefix is where the status server mounts its routes.
	RoutePrefix = "/api/v1/guardian"
)

// Pinger is the part of the activity channel the health check uses.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy HealthStatus = "unhealthy"
	// StatusDegraded indicates the component has degraded performance.
	StatusDegraded HealthStatus = "degraded"
)

// HealthResponse represents the overall health check response.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth represents the health of an individual component.
type ComponentHealth struct {
	Status       HealthStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	LastChecked  time.Time    `json:"last_checked"`
	ResponseTime string       `json:"response_time,omitempty"`
}

// HealthHandler provides health check and monitoring endpoints.
type HealthHandler struct {
	config    *config.Config
	backend   Pinger
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health check handler. gatherer backs the
// /metrics route; nil selects the default registry.
func NewHealthHandler(
	cfg *config.Config,
	backend Pinger,
	gatherer prometheus.Gatherer,
	logger *logrus.Logger,
) *HealthHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &HealthHandler{
		config:    cfg,
		backend:   backend,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers health check and monitoring endpoints.
func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Health checks the sync backend and the configuration.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components := map[string]ComponentHealth{
		"sync":          h.checkBackend(r.Context()),
		"configuration": h.checkConfiguration(),
	}

	overall := StatusHealthy
	for name, c := range components {
		switch {
		case c.Status == StatusUnhealthy && name == "sync":
			overall = StatusUnhealthy
		case c.Status != StatusHealthy && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).String(),
		Components: components,
	})
}

// Liveness returns 200 while the process is serving.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

func (h *HealthHandler) checkBackend(ctx context.Context) ComponentHealth {
	if h.backend == nil {
		return ComponentHealth{
			Status:      StatusDegraded,
			Message:     "no sync backend configured",
			LastChecked: time.Now(),
		}
	}

	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := h.backend.Ping(checkCtx)
	duration := time.Since(start)
	backend := string(h.config.Sync.Backend)

	if err != nil {
		h.logger.WithError(err).Warn("Sync backend health check failed")
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Message:      backend + " backend unreachable: " + err.Error(),
			LastChecked:  time.Now(),
			ResponseTime: duration.String(),
		}
	}

	status := StatusHealthy
	message := backend + " backend is healthy"
	if duration > SlowBackendThreshold {
		status = StatusDegraded
		message = backend + " backend is slow"
	}

	return ComponentHealth{
		Status:       status,
		Message:      message,
		LastChecked:  time.Now(),
		ResponseTime: duration.String(),
	}
}

func (h *HealthHandler) checkConfiguration() ComponentHealth {
	if err := h.config.Validate(); err != nil {
		return ComponentHealth{
			Status:      StatusDegraded,
			Message:     "Configuration issues: " + err.Error(),
			LastChecked: time.Now(),
		}
	}
	return ComponentHealth{
		Status:      StatusHealthy,
		Message:     "Configuration is valid",
		LastChecked: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, statusCode int, data interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, logger *logrus.Logger, statusCode int, code, message string) {
	writeJSON(w, logger, statusCode, map[string]string{
		"error":             code,
		"error_description": message,
	})

	logger.WithFields(logrus.Fields{
		"status_code": statusCode,
		"error":       message,
	}).Warn("Error response sent")
}
