package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/multi-tenant-crm/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Environment string            `json:"environment,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          Pinger
	environment string
	logger      *zap.Logger
	now         func() time.Time
}

// NewHealthHandler creates a new HealthHandler. db may be nil.
func NewHealthHandler(db Pinger, environment string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		environment: environment,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleHealth handles GET /health and GET /healthz.
// Liveness only; always 200 while the process is serving.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:      "OK",
		Timestamp:   h.now().UTC().Format(time.RFC3339),
		Environment: h.environment,
	})
}

// HandleReadiness handles GET /readyz. It fails with 503 when the database
// cannot be reached.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"database": "healthy"}
	status, httpStatus := "ready", http.StatusOK

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			status, httpStatus = "unavailable", http.StatusServiceUnavailable
		}
	}

	if err := utils.WriteJSON(w, httpStatus, HealthResponse{
		Status:    status,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
