package session

import "github.com/mirulabs/dbmiru/internal/db"

// Event is one entry in a session's serialized event stream. Events are
// immutable once emitted and correlated to commands by token; lifecycle
// events not caused by any command carry an empty token.
type Event interface {
	Token() Token
	event()
}

type base struct {
	Tok Token
}

func (b base) Token() Token { return b.Tok }
func (base) event()         {}

// Connected reports a successful connect.
type Connected struct {
	base
	Info db.ConnectionInfo
}

// ConnectionClosed reports that the session's connection ended, whether
// user-requested, a failed connect attempt, or a server-initiated drop.
type ConnectionClosed struct {
	base
	Reason db.CloseReason
}

// QueryStarted marks the moment an Execute or Preview reached the backend.
type QueryStarted struct {
	base
}

// QueryResult carries a completed statement's rendered outcome.
type QueryResult struct {
	base
	Outcome *db.QueryOutcome
}

// QueryError reports a failed statement.
type QueryError struct {
	base
	Kind    db.QueryErrorKind
	Summary string
	Detail  string
}

// SchemasLoaded carries a schema listing.
type SchemasLoaded struct {
	base
	Schemas []string
}

// TablesLoaded carries a table listing for one schema.
type TablesLoaded struct {
	base
	Schema string
	Tables []string
}

// ColumnsLoaded carries column metadata for one table.
type ColumnsLoaded struct {
	base
	Schema  string
	Table   string
	Columns []db.Column
}

// MetadataError reports a failed catalog lookup.
type MetadataError struct {
	base
	Kind    db.MetadataErrorKind
	Summary string
	Detail  string
}

// PreviewResult carries a bounded table sample, same shape as QueryResult.
type PreviewResult struct {
	base
	Schema  string
	Table   string
	Outcome *db.QueryOutcome
}

// Cancelled acknowledges a cancel: the targeted command produces no success
// event and the session is free again.
type Cancelled struct {
	base
	Target Token
}

// CommandRejected reports a command that was illegal in the session's state
// at the time it was processed.
type CommandRejected struct {
	base
	Command CommandKind
	Reason  string
}
