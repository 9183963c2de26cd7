package postgres

import (
	"context"
	"database/sql"
)

// Client is the read-only database handle the engine queries through.
// The service never writes to the recording store, so there is no exec
// or transaction surface.
type Client interface {
	// Connect establishes the connection pool
	Connect(ctx context.Context) error

	// Disconnect closes the connection pool
	Disconnect() error

	// Query executes a query that returns rows
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// QueryRow executes a query expected to return at most one row
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row

	// HealthCheck reports the state of the connection
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
