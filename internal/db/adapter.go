package db

import "context"

// Default result caps. Execute keeps fetching past the cap so the true
// row count is still reported, but only RowLimit rows are rendered.
const (
	RowLimit     = 1000
	PreviewLimit = 50
)

// NullCell is the rendered representation of SQL NULL. QueryOutcome.NullMask
// marks which cells are actual NULLs so they stay distinguishable from a
// string column containing the literal text "NULL".
const NullCell = "NULL"

// Adapter defines the backend-specific contract for one live connection.
// Implementations own exactly one connection and are driven from a single
// goroutine; they do not need to be safe for concurrent use.
type Adapter interface {
	// Connect establishes the connection and authenticates with cred.
	// Failures are reported as *ConnectionError.
	Connect(ctx context.Context, cred Credential) (ConnectionInfo, error)

	// Execute runs one SQL statement. Failures are reported as *QueryError.
	Execute(ctx context.Context, sql string) (*QueryOutcome, error)

	// ListSchemas returns non-system schema names by default.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListTables returns base table names in a schema.
	ListTables(ctx context.Context, schema string) ([]string, error)

	// ListColumns returns column metadata for a table in ordinal order.
	ListColumns(ctx context.Context, schema, table string) ([]Column, error)

	// Preview samples up to limit rows from a table. Identifiers are quoted
	// by the adapter; callers never interpolate them into SQL themselves.
	Preview(ctx context.Context, schema, table string, limit int) (*QueryOutcome, error)

	// Cancel requests cancellation of the operation currently executing on
	// the connection. Best effort: the result may still arrive.
	Cancel(ctx context.Context) error

	// Disconnect closes the connection, best effort. Failures are logged by
	// the adapter rather than surfaced: the session is being torn down anyway.
	Disconnect(ctx context.Context)

	// Done resolves exactly once when the underlying connection terminates
	// for any reason, requested or not.
	Done() <-chan CloseReason
}
