package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/trapline/visits-platform/pkg/mqtt"
	"github.com/trapline/visits-platform/pkg/postgres"
	"github.com/trapline/visits-platform/pkg/redis"
)

// Checker provides health check functionality for the service
type Checker struct {
	postgres postgres.Client
	redis    redis.Client
	mqtt     mqtt.Client
	logger   *slog.Logger
}

// NewChecker creates a new health checker with the given dependencies
func NewChecker(pgClient postgres.Client, redisClient redis.Client, mqttClient mqtt.Client, logger *slog.Logger) *Checker {
	return &Checker{
		postgres: pgClient,
		redis:    redisClient,
		mqtt:     mqttClient,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp string    `json:"timestamp"`
	Services  *Services `json:"services,omitempty"`
}

// Services represents the status of external dependencies
type Services struct {
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
	MQTT     string `json:"mqtt"`
}

// HandlerFunc returns an HTTP handler function for health checks.
// Returns 200 if the process is alive without checking dependencies,
// which keeps the liveness check fast for the orchestrator.
func (h *Checker) HandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			h.logger.Error("Failed to encode health response", "error", err)
		}
	}
}

// DetailedHandlerFunc returns a handler that checks all dependencies
func (h *Checker) DetailedHandlerFunc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := &Services{
			Postgres: "unknown",
			Redis:    "unknown",
			MQTT:     "unknown",
		}

		if h.postgres != nil {
			if status, err := h.postgres.HealthCheck(r.Context()); err == nil && status.Connected {
				services.Postgres = "connected"
			} else {
				services.Postgres = "disconnected"
			}
		}

		if h.redis != nil {
			if err := h.redis.Ping(r.Context()); err == nil {
				services.Redis = "connected"
			} else {
				services.Redis = "disconnected"
			}
		}

		if h.mqtt != nil && h.mqtt.IsConnected() {
			services.MQTT = "connected"
		} else {
			services.MQTT = "disconnected"
		}

		// The query path only needs Postgres; Redis and MQTT degrade gracefully
		status := "healthy"
		statusCode := http.StatusOK

		if services.Postgres == "disconnected" {
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		} else if services.Redis == "disconnected" || services.MQTT == "disconnected" {
			status = "degraded"
		}

		response := HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Services:  services,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			h.logger.Error("Failed to encode health response", "error", err)
		}
	}
}
