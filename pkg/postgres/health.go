package postgres

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus describes the state of the recording-store connection
type HealthStatus struct {
	Connected bool      `json:"connected"`
	Database  string    `json:"database"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck pings the database and reports the outcome without failing;
// the detailed health endpoint renders the status either way.
func (c *postgresClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := HealthStatus{
		Database:  c.config.PostgresDB,
		Timestamp: time.Now(),
	}

	if c.db == nil {
		status.Error = "not connected"
		return &status, nil
	}
	if err := c.db.PingContext(ctx); err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return &status, nil
	}

	status.Connected = true
	return &status, nil
}
