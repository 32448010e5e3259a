// Package postgres implements the db.Adapter contract over pgx.
//
// One Adapter owns exactly one *pgx.Conn. The session worker drives all
// operations from a single goroutine; the only internal concurrency is the
// keepalive probe, which shares the connection under a mutex and exists to
// notice server-initiated disconnects while the session is idle.
package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mirulabs/dbmiru/internal/db"
	"github.com/mirulabs/dbmiru/internal/profile"
)

const (
	defaultKeepaliveInterval = 30 * time.Second
	keepaliveProbeTimeout    = 5 * time.Second
)

var errConnClosed = errors.New("conn closed")

// Options tunes adapter behavior. The zero value is usable.
type Options struct {
	// ConnectTimeout bounds the transport dial and handshake. Zero means the
	// driver default.
	ConnectTimeout time.Duration

	// KeepaliveInterval is how often the idle connection is probed so that
	// server-initiated disconnects surface without user activity.
	// Zero means the default; negative disables probing.
	KeepaliveInterval time.Duration

	// RowLimit caps how many rows a result renders. Zero means db.RowLimit.
	RowLimit int

	// IncludeSystemSchemas also lists pg_catalog, information_schema and
	// pg_toast in schema listings.
	IncludeSystemSchemas bool

	// Logger receives swallowed teardown errors. Nil discards.
	Logger *slog.Logger
}

// Adapter is the PostgreSQL implementation of db.Adapter.
type Adapter struct {
	profile profile.ConnectionProfile
	opts    Options
	log     *slog.Logger

	mu   sync.Mutex // serializes conn access between operations and keepalive
	conn *pgx.Conn

	pgc           atomic.Pointer[pgconn.PgConn] // for out-of-band cancel requests
	disconnecting atomic.Bool

	done      chan db.CloseReason
	closeOnce sync.Once
	stopProbe chan struct{}
	stopOnce  sync.Once
}

// New creates an adapter for the given profile. No connection is made until
// Connect.
func New(p profile.ConnectionProfile, opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{
		profile:   p,
		opts:      opts,
		log:       log.With("component", "postgres", "profile", p.Name),
		done:      make(chan db.CloseReason, 1),
		stopProbe: make(chan struct{}),
	}
}

// Connect establishes the connection and authenticates.
func (a *Adapter) Connect(ctx context.Context, cred db.Credential) (db.ConnectionInfo, error) {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cred.Username, cred.Secret),
		Host:   a.profile.Address(),
		Path:   "/" + a.profile.Database,
	}

	cfg, err := pgx.ParseConfig(u.String())
	if err != nil {
		return db.ConnectionInfo{}, &db.ConnectionError{
			Kind:    db.ConnectionProtocol,
			Summary: "invalid connection parameters",
			Detail:  err.Error(),
			Cause:   err,
		}
	}
	if a.opts.ConnectTimeout > 0 {
		cfg.ConnectTimeout = a.opts.ConnectTimeout
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return db.ConnectionInfo{}, classifyConnectError(err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	a.pgc.Store(conn.PgConn())

	if interval := a.keepaliveInterval(); interval > 0 {
		go a.keepalive(interval)
	}

	return db.ConnectionInfo{
		Database:      a.profile.Database,
		ServerVersion: conn.PgConn().ParameterStatus("server_version"),
	}, nil
}

func (a *Adapter) keepaliveInterval() time.Duration {
	switch {
	case a.opts.KeepaliveInterval < 0:
		return 0
	case a.opts.KeepaliveInterval == 0:
		return defaultKeepaliveInterval
	default:
		return a.opts.KeepaliveInterval
	}
}

// keepalive probes the connection until it dies or Disconnect stops it.
func (a *Adapter) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopProbe:
			return
		case <-ticker.C:
			if err := a.probe(); err != nil {
				if a.disconnecting.Load() {
					return
				}
				a.reportClosed(db.CloseReason{Err: err})
				return
			}
		}
	}
}

func (a *Adapter) probe() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	if a.conn.IsClosed() {
		return errConnClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), keepaliveProbeTimeout)
	defer cancel()
	return a.conn.Ping(ctx)
}

// Execute runs one SQL statement.
func (a *Adapter) Execute(ctx context.Context, sql string) (*db.QueryOutcome, error) {
	return a.query(ctx, sql, a.rowLimit())
}

// Preview samples up to limit rows from a table with safely quoted
// identifiers.
func (a *Adapter) Preview(ctx context.Context, schema, table string, limit int) (*db.QueryOutcome, error) {
	sql, limit := previewStatement(schema, table, limit, a.rowLimit())
	return a.query(ctx, sql, limit)
}

func (a *Adapter) rowLimit() int {
	if a.opts.RowLimit > 0 {
		return a.opts.RowLimit
	}
	return db.RowLimit
}

// previewStatement builds the bounded sample query and the effective limit.
// A non-positive limit falls back to the preview default; maxRows bounds it
// from above.
func previewStatement(schema, table string, limit, maxRows int) (string, int) {
	if limit <= 0 {
		limit = db.PreviewLimit
	}
	if limit > maxRows {
		limit = maxRows
	}
	return "SELECT * FROM " + qualifiedTableName(schema, table) + " LIMIT " + strconv.Itoa(limit), limit
}

func (a *Adapter) query(ctx context.Context, sql string, limit int) (*db.QueryOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil, notConnectedQueryError()
	}

	started := time.Now()
	rows, err := a.conn.Query(ctx, sql)
	if err != nil {
		return nil, a.queryFailed(err)
	}
	outcome, err := collectRows(rows, limit)
	if err != nil {
		return nil, a.queryFailed(err)
	}
	outcome.Elapsed = time.Since(started)
	return outcome, nil
}

// collectRows drains the row stream, rendering at most limit rows but
// counting everything so the true total is reported.
func collectRows(rows pgx.Rows, limit int) (*db.QueryOutcome, error) {
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}

	outcome := &db.QueryOutcome{Columns: columns}
	var total int64
	for rows.Next() {
		total++
		if len(outcome.Rows) >= limit {
			outcome.Truncated = true
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rendered := make([]string, len(values))
		mask := make([]bool, len(values))
		for i, v := range values {
			rendered[i], mask[i] = renderCell(v, fds[i].DataTypeOID)
		}
		outcome.Rows = append(outcome.Rows, rendered)
		outcome.NullMask = append(outcome.NullMask, mask)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	outcome.RowCount = total
	if len(fds) == 0 {
		// No row description: a write statement. Report the affected count.
		outcome.RowCount = rows.CommandTag().RowsAffected()
	}
	return outcome, nil
}

// ListSchemas returns schema names, excluding system schemas unless
// configured otherwise.
func (a *Adapter) ListSchemas(ctx context.Context) ([]string, error) {
	q := queryListSchemas
	if a.opts.IncludeSystemSchemas {
		q = queryListAllSchemas
	}
	return a.stringColumn(ctx, q)
}

// ListTables returns base table names in a schema.
func (a *Adapter) ListTables(ctx context.Context, schema string) ([]string, error) {
	return a.stringColumn(ctx, queryListTables, schema)
}

func (a *Adapter) stringColumn(ctx context.Context, sql string, args ...any) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil, notConnectedMetadataError()
	}

	rows, err := a.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, a.metadataFailed(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, a.metadataFailed(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, a.metadataFailed(err)
	}
	return names, nil
}

// ListColumns returns column metadata for a table in ordinal order.
func (a *Adapter) ListColumns(ctx context.Context, schema, table string) ([]db.Column, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil, notConnectedMetadataError()
	}

	rows, err := a.conn.Query(ctx, queryListColumns, schema, table)
	if err != nil {
		return nil, a.metadataFailed(err)
	}
	defer rows.Close()

	var columns []db.Column
	for rows.Next() {
		var col db.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.DataType, &nullable); err != nil {
			return nil, a.metadataFailed(err)
		}
		col.Nullable = nullable == "YES"
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, a.metadataFailed(err)
	}
	return columns, nil
}

// Cancel asks the server to abort the statement currently executing on this
// connection. Best effort: the statement may still complete.
func (a *Adapter) Cancel(ctx context.Context) error {
	pgc := a.pgc.Load()
	if pgc == nil {
		return nil
	}
	// CancelRequest dials a separate socket, so it is safe while the main
	// connection is busy.
	return pgc.CancelRequest(ctx)
}

// Disconnect closes the connection. Close failures are logged, not surfaced.
func (a *Adapter) Disconnect(ctx context.Context) {
	a.disconnecting.Store(true)
	a.stopOnce.Do(func() { close(a.stopProbe) })

	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		if err := conn.Close(ctx); err != nil {
			a.log.Warn("close connection", "err", err)
		}
	}
	a.reportClosed(db.CloseReason{UserRequested: true})
}

// Done resolves once when the connection terminates for any reason.
func (a *Adapter) Done() <-chan db.CloseReason {
	return a.done
}

func (a *Adapter) reportClosed(reason db.CloseReason) {
	a.closeOnce.Do(func() {
		a.done <- reason
		close(a.done)
	})
}

// queryFailed classifies err and, when it proves the connection is gone,
// resolves the liveness channel so the worker learns about it.
func (a *Adapter) queryFailed(err error) *db.QueryError {
	closed := a.conn == nil || a.conn.IsClosed()
	qerr := classifyQueryError(err, closed)
	if qerr.Kind == db.QueryConnectionLost && !a.disconnecting.Load() {
		a.reportClosed(db.CloseReason{Err: err})
	}
	return qerr
}

func (a *Adapter) metadataFailed(err error) *db.MetadataError {
	closed := a.conn == nil || a.conn.IsClosed()
	merr := classifyMetadataError(err, closed)
	if merr.Kind == db.MetadataConnectionLost && !a.disconnecting.Load() {
		a.reportClosed(db.CloseReason{Err: err})
	}
	return merr
}

func notConnectedQueryError() *db.QueryError {
	return &db.QueryError{
		Kind:    db.QueryConnectionLost,
		Summary: "not connected",
	}
}

func notConnectedMetadataError() *db.MetadataError {
	return &db.MetadataError{
		Kind:    db.MetadataConnectionLost,
		Summary: "not connected",
	}
}
