package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mirulabs/dbmiru/internal/db"
)

// SQLSTATE codes we map onto the error taxonomy.
const (
	sqlstateInvalidPassword       = "28P01"
	sqlstateInvalidAuthorization  = "28000"
	sqlstateInvalidCatalogName    = "3D000"
	sqlstateInsufficientPrivilege = "42501"
	sqlstateClassSyntax           = "42"
)

func classifyConnectError(err error) *db.ConnectionError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateInvalidPassword:
			return &db.ConnectionError{
				Kind:    db.ConnectionAuthFailed,
				Summary: "password authentication failed",
				Detail:  pgErr.Message,
				Cause:   err,
			}
		case sqlstateInvalidAuthorization:
			return &db.ConnectionError{
				Kind:    db.ConnectionAuthFailed,
				Summary: "user does not exist or lacks permission",
				Detail:  pgErr.Message,
				Cause:   err,
			}
		case sqlstateInvalidCatalogName:
			return &db.ConnectionError{
				Kind:    db.ConnectionProtocol,
				Summary: "database does not exist",
				Detail:  pgErr.Message,
				Cause:   err,
			}
		}
		return &db.ConnectionError{
			Kind:    db.ConnectionProtocol,
			Summary: pgErr.Message,
			Detail:  pgErr.Detail,
			Cause:   err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &db.ConnectionError{
			Kind:    db.ConnectionTimeout,
			Summary: "connection timed out",
			Detail:  err.Error(),
			Cause:   err,
		}
	}

	if isUnreachable(err) {
		return &db.ConnectionError{
			Kind:    db.ConnectionNetworkUnreachable,
			Summary: "unable to reach the database host",
			Detail:  err.Error(),
			Cause:   err,
		}
	}

	return &db.ConnectionError{
		Kind:    db.ConnectionProtocol,
		Summary: "failed to connect to the database",
		Detail:  err.Error(),
		Cause:   err,
	}
}

func classifyQueryError(err error, closed bool) *db.QueryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, sqlstateClassSyntax) && pgErr.Code != sqlstateInsufficientPrivilege {
			return &db.QueryError{
				Kind:    db.QuerySyntax,
				Summary: pgErr.Message,
				Detail:  positionDetail(pgErr),
				Cause:   err,
			}
		}
		return &db.QueryError{
			Kind:    db.QueryRuntime,
			Summary: pgErr.Message,
			Detail:  pgErr.Detail,
			Cause:   err,
		}
	}

	if closed || isConnectionFatal(err) {
		return &db.QueryError{
			Kind:    db.QueryConnectionLost,
			Summary: "connection to the database was lost",
			Detail:  err.Error(),
			Cause:   err,
		}
	}

	return &db.QueryError{
		Kind:    db.QueryRuntime,
		Summary: "query failed",
		Detail:  err.Error(),
		Cause:   err,
	}
}

func classifyMetadataError(err error, closed bool) *db.MetadataError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateInsufficientPrivilege {
		return &db.MetadataError{
			Kind:    db.MetadataPermissionDenied,
			Summary: pgErr.Message,
			Detail:  pgErr.Detail,
			Cause:   err,
		}
	}

	qerr := classifyQueryError(err, closed)
	kind := db.MetadataRuntime
	if qerr.Kind == db.QueryConnectionLost {
		kind = db.MetadataConnectionLost
	}
	return &db.MetadataError{
		Kind:    kind,
		Summary: qerr.Summary,
		Detail:  qerr.Detail,
		Cause:   err,
	}
}

// isConnectionFatal reports whether err indicates the connection itself is
// gone, as opposed to the statement merely failing.
func isConnectionFatal(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	// pgconn reports operations on a dead connection with this text.
	return strings.Contains(err.Error(), "conn closed")
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host")
}

func positionDetail(pgErr *pgconn.PgError) string {
	if pgErr.Position > 0 {
		return fmt.Sprintf("%s (at position %d)", pgErr.Detail, pgErr.Position)
	}
	return pgErr.Detail
}
