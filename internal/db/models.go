package db

import "time"

// Credential carries the username and secret for one connect attempt.
// It is never persisted by the runtime and should not outlive the attempt.
type Credential struct {
	Username string
	Secret   string
}

// ConnectionInfo describes a successfully established connection.
type ConnectionInfo struct {
	Database      string
	ServerVersion string
}

// Column represents a table column with its metadata.
type Column struct {
	Name     string
	DataType string
	Nullable bool
}

// QueryOutcome holds the rendered result of a SQL statement.
//
// Rows carries at most the display cap requested by the caller; RowCount is
// the true returned (or affected) count when the backend reports one, and
// Truncated is set when rows beyond the cap were fetched and discarded.
type QueryOutcome struct {
	Columns   []string
	Rows      [][]string
	NullMask  [][]bool
	RowCount  int64
	Truncated bool
	Elapsed   time.Duration
}

// CloseReason explains why a connection terminated.
// Err is nil for a clean exit; UserRequested marks disconnects we asked for.
type CloseReason struct {
	UserRequested bool
	Err           error
}

func (r CloseReason) String() string {
	switch {
	case r.UserRequested:
		return "disconnected by user"
	case r.Err != nil:
		return r.Err.Error()
	default:
		return "connection closed"
	}
}
