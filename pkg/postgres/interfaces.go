package postgres

import (
	"context"
	"database/sql"
)

// Client wraps a Postgres connection pool behind a small interface so storage
// code can be constructed against a mock in tests.
type Client interface {
	// Connect establishes connection to the database
	Connect(ctx context.Context) error

	// Disconnect closes the database connection
	Disconnect() error

	// DB returns the underlying connection pool
	DB() *sql.DB

	// IsConnected returns whether the client is connected
	IsConnected() bool

	// Transaction executes a function within a database transaction
	Transaction(ctx context.Context, fn func(*sql.Tx) error) error

	// Ping tests the database connection
	Ping(ctx context.Context) error
}
