package db

import "fmt"

// ConnectionErrorKind classifies connect-time failures.
type ConnectionErrorKind int

const (
	ConnectionTimeout ConnectionErrorKind = iota
	ConnectionAuthFailed
	ConnectionNetworkUnreachable
	ConnectionProtocol
)

func (k ConnectionErrorKind) String() string {
	switch k {
	case ConnectionTimeout:
		return "timeout"
	case ConnectionAuthFailed:
		return "auth failed"
	case ConnectionNetworkUnreachable:
		return "network unreachable"
	default:
		return "protocol error"
	}
}

// ConnectionError represents a failure to establish a connection.
// Summary is short and user-facing; Detail carries the driver message.
type ConnectionError struct {
	Kind    ConnectionErrorKind
	Summary string
	Detail  string
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %s", e.Kind, e.Summary)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// QueryErrorKind classifies statement execution failures.
type QueryErrorKind int

const (
	QuerySyntax QueryErrorKind = iota
	QueryRuntime
	QueryConnectionLost
)

func (k QueryErrorKind) String() string {
	switch k {
	case QuerySyntax:
		return "syntax"
	case QueryConnectionLost:
		return "connection lost"
	default:
		return "runtime"
	}
}

// QueryError represents a failed statement execution.
type QueryError struct {
	Kind    QueryErrorKind
	Summary string
	Detail  string
	Cause   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error (%s): %s", e.Kind, e.Summary)
}

func (e *QueryError) Unwrap() error { return e.Cause }

// MetadataErrorKind classifies catalog lookup failures.
type MetadataErrorKind int

const (
	MetadataRuntime MetadataErrorKind = iota
	MetadataConnectionLost
	MetadataPermissionDenied
)

func (k MetadataErrorKind) String() string {
	switch k {
	case MetadataConnectionLost:
		return "connection lost"
	case MetadataPermissionDenied:
		return "permission denied"
	default:
		return "runtime"
	}
}

// MetadataError represents a failed schema/table/column listing.
type MetadataError struct {
	Kind    MetadataErrorKind
	Summary string
	Detail  string
	Cause   error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata error (%s): %s", e.Kind, e.Summary)
}

func (e *MetadataError) Unwrap() error { return e.Cause }
