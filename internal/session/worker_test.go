package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirulabs/dbmiru/internal/db"
	"github.com/mirulabs/dbmiru/internal/profile"
	"github.com/mirulabs/dbmiru/internal/session"
)

const eventWait = 2 * time.Second

// fakeAdapter is a scriptable db.Adapter. Function fields override behavior
// per test; unset fields succeed with zero values. It also counts concurrent
// operations so tests can assert the worker never overlaps them.
type fakeAdapter struct {
	connectFn func(ctx context.Context, cred db.Credential) (db.ConnectionInfo, error)
	executeFn func(ctx context.Context, sql string) (*db.QueryOutcome, error)
	schemasFn func(ctx context.Context) ([]string, error)
	cancelFn  func(ctx context.Context) error

	done chan db.CloseReason

	active    atomic.Int32
	maxActive atomic.Int32

	mu           sync.Mutex
	disconnected bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{done: make(chan db.CloseReason, 1)}
}

func (f *fakeAdapter) enter() {
	n := f.active.Add(1)
	for {
		max := f.maxActive.Load()
		if n <= max || f.maxActive.CompareAndSwap(max, n) {
			return
		}
	}
}

func (f *fakeAdapter) leave() { f.active.Add(-1) }

func (f *fakeAdapter) Connect(ctx context.Context, cred db.Credential) (db.ConnectionInfo, error) {
	if f.connectFn != nil {
		return f.connectFn(ctx, cred)
	}
	return db.ConnectionInfo{Database: "testdb", ServerVersion: "16.0"}, nil
}

func (f *fakeAdapter) Execute(ctx context.Context, sql string) (*db.QueryOutcome, error) {
	f.enter()
	defer f.leave()
	if f.executeFn != nil {
		return f.executeFn(ctx, sql)
	}
	return &db.QueryOutcome{Columns: []string{"n"}, Rows: [][]string{{"1"}}, RowCount: 1}, nil
}

func (f *fakeAdapter) Preview(ctx context.Context, schema, table string, limit int) (*db.QueryOutcome, error) {
	f.enter()
	defer f.leave()
	return &db.QueryOutcome{Columns: []string{"id"}, RowCount: 0}, nil
}

func (f *fakeAdapter) ListSchemas(ctx context.Context) ([]string, error) {
	f.enter()
	defer f.leave()
	if f.schemasFn != nil {
		return f.schemasFn(ctx)
	}
	return []string{"public"}, nil
}

func (f *fakeAdapter) ListTables(ctx context.Context, schema string) ([]string, error) {
	f.enter()
	defer f.leave()
	return []string{"users"}, nil
}

func (f *fakeAdapter) ListColumns(ctx context.Context, schema, table string) ([]db.Column, error) {
	f.enter()
	defer f.leave()
	return []db.Column{{Name: "id", DataType: "integer"}}, nil
}

func (f *fakeAdapter) Cancel(ctx context.Context) error {
	if f.cancelFn != nil {
		return f.cancelFn(ctx)
	}
	return nil
}

func (f *fakeAdapter) Disconnect(ctx context.Context) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakeAdapter) Done() <-chan db.CloseReason { return f.done }

func (f *fakeAdapter) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func testProfile() profile.ConnectionProfile {
	return profile.New("test", "localhost", 5432, "testdb", "alice", false)
}

func startSession(t *testing.T, adapter db.Adapter) session.Handle {
	t.Helper()
	w := session.NewWorker(testProfile(), adapter, session.Options{})
	return w.Handle()
}

func nextEvent(t *testing.T, h session.Handle) session.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		require.True(t, ok, "event stream closed unexpectedly")
		return ev
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func connect(t *testing.T, h session.Handle) session.Token {
	t.Helper()
	token := session.NewToken()
	require.NoError(t, h.Submit(session.Connect(token, db.Credential{Username: "alice"})))
	ev := nextEvent(t, h)
	connected, ok := ev.(session.Connected)
	require.True(t, ok, "expected Connected, got %T", ev)
	require.Equal(t, token, connected.Token())
	return token
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	adapter := newFakeAdapter()
	h := startSession(t, adapter)

	connect(t, h)
	require.Equal(t, session.StateConnected, h.State())

	discToken := session.NewToken()
	require.NoError(t, h.Submit(session.Disconnect(discToken)))

	ev := nextEvent(t, h)
	closed, ok := ev.(session.ConnectionClosed)
	require.True(t, ok, "expected ConnectionClosed, got %T", ev)
	assert.Equal(t, discToken, closed.Token())
	assert.True(t, closed.Reason.UserRequested)

	select {
	case <-h.Done():
	case <-time.After(eventWait):
		t.Fatal("session did not terminate")
	}
	assert.True(t, adapter.wasDisconnected())
	assert.Equal(t, session.StateDisconnected, h.State())

	// Stream closes after the terminal event.
	_, ok = <-h.Events()
	assert.False(t, ok)
}

func TestConnectFailureTerminates(t *testing.T) {
	adapter := newFakeAdapter()
	connectErr := &db.ConnectionError{Kind: db.ConnectionAuthFailed, Summary: "password authentication failed"}
	adapter.connectFn = func(ctx context.Context, cred db.Credential) (db.ConnectionInfo, error) {
		return db.ConnectionInfo{}, connectErr
	}
	h := startSession(t, adapter)

	token := session.NewToken()
	require.NoError(t, h.Submit(session.Connect(token, db.Credential{})))

	ev := nextEvent(t, h)
	closed, ok := ev.(session.ConnectionClosed)
	require.True(t, ok, "expected ConnectionClosed, got %T", ev)
	assert.Equal(t, token, closed.Token())
	assert.False(t, closed.Reason.UserRequested)

	var cerr *db.ConnectionError
	require.ErrorAs(t, closed.Reason.Err, &cerr)
	assert.Equal(t, db.ConnectionAuthFailed, cerr.Kind)

	<-h.Done()
	assert.ErrorIs(t, h.Submit(session.Execute(session.NewToken(), "SELECT 1")), session.ErrSessionClosed)
}

func TestConnectTimeout(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.connectFn = func(ctx context.Context, cred db.Credential) (db.ConnectionInfo, error) {
		<-ctx.Done()
		return db.ConnectionInfo{}, &db.ConnectionError{
			Kind:    db.ConnectionTimeout,
			Summary: "connection timed out",
			Cause:   ctx.Err(),
		}
	}
	w := session.NewWorker(testProfile(), adapter, session.Options{ConnectTimeout: 20 * time.Millisecond})
	h := w.Handle()

	token := session.NewToken()
	require.NoError(t, h.Submit(session.Connect(token, db.Credential{})))

	ev := nextEvent(t, h)
	closed, ok := ev.(session.ConnectionClosed)
	require.True(t, ok, "expected ConnectionClosed, got %T", ev)
	assert.Equal(t, token, closed.Token())

	var cerr *db.ConnectionError
	require.ErrorAs(t, closed.Reason.Err, &cerr)
	assert.Equal(t, db.ConnectionTimeout, cerr.Kind)
	<-h.Done()
}

func TestDisconnectWithoutConnectIsIdempotent(t *testing.T) {
	h := startSession(t, newFakeAdapter())

	require.NoError(t, h.Submit(session.Disconnect(session.NewToken())))
	ev := nextEvent(t, h)
	closed, ok := ev.(session.ConnectionClosed)
	require.True(t, ok, "expected ConnectionClosed, got %T", ev)
	assert.True(t, closed.Reason.UserRequested)
	<-h.Done()
}

func TestRejectedWhileDisconnected(t *testing.T) {
	h := startSession(t, newFakeAdapter())

	token := session.NewToken()
	require.NoError(t, h.Submit(session.Execute(token, "SELECT 1")))

	ev := nextEvent(t, h)
	rejected, ok := ev.(session.CommandRejected)
	require.True(t, ok, "expected CommandRejected, got %T", ev)
	assert.Equal(t, token, rejected.Token())
	assert.Equal(t, session.CmdExecute, rejected.Command)
}

func TestCommandsCompleteInSubmissionOrder(t *testing.T) {
	adapter := newFakeAdapter()
	// The first statement is much slower than the second; submission order
	// must still decide completion order.
	adapter.executeFn = func(ctx context.Context, sql string) (*db.QueryOutcome, error) {
		if sql == "slow" {
			time.Sleep(100 * time.Millisecond)
		}
		return &db.QueryOutcome{Columns: []string{"n"}, RowCount: 1}, nil
	}
	h := startSession(t, adapter)
	connect(t, h)

	slow := session.NewToken()
	fast := session.NewToken()
	require.NoError(t, h.Submit(session.Execute(slow, "slow")))
	require.NoError(t, h.Submit(session.Execute(fast, "fast")))

	var order []session.Token
	for i := 0; i < 4; i++ {
		switch ev := nextEvent(t, h).(type) {
		case session.QueryStarted:
		case session.QueryResult:
			order = append(order, ev.Token())
		default:
			t.Fatalf("unexpected event %T", ev)
		}
	}
	require.Equal(t, []session.Token{slow, fast}, order)
}

func TestOperationsNeverOverlap(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.executeFn = func(ctx context.Context, sql string) (*db.QueryOutcome, error) {
		time.Sleep(time.Millisecond)
		return &db.QueryOutcome{RowCount: 0}, nil
	}
	h := startSession(t, adapter)
	connect(t, h)

	const submitters = 4
	const perSubmitter = 5
	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSubmitter; j++ {
				if err := h.Submit(session.Execute(session.NewToken(), "SELECT 1")); err == nil {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// Two events per accepted command: QueryStarted then QueryResult.
	for i := int32(0); i < accepted.Load()*2; i++ {
		nextEvent(t, h)
	}
	assert.Equal(t, int32(1), adapter.maxActive.Load(), "operations overlapped on the adapter")
}

func TestStatementErrorKeepsSessionUsable(t *testing.T) {
	adapter := newFakeAdapter()
	var calls atomic.Int32
	adapter.executeFn = func(ctx context.Context, sql string) (*db.QueryOutcome, error) {
		if calls.Add(1) == 1 {
			return nil, &db.QueryError{Kind: db.QuerySyntax, Summary: `syntax error at or near "SELEC"`}
		}
		return &db.QueryOutcome{Columns: []string{"n"}, RowCount: 1}, nil
	}
	h := startSession(t, adapter)
	connect(t, h)

	bad := session.NewToken()
	require.NoError(t, h.Submit(session.Execute(bad, "SELEC 1")))
	nextEvent(t, h) // QueryStarted
	ev := nextEvent(t, h)
	qerr, ok := ev.(session.QueryError)
	require.True(t, ok, "expected QueryError, got %T", ev)
	assert.Equal(t, bad, qerr.Token())
	assert.Equal(t, db.QuerySyntax, qerr.Kind)
	assert.Equal(t, session.StateConnected, h.State())

	good := session.NewToken()
	require.NoError(t, h.Submit(session.Execute(good, "SELECT 1")))
	nextEvent(t, h) // QueryStarted
	ev = nextEvent(t, h)
	result, ok := ev.(session.QueryResult)
	require.True(t, ok, "expected QueryResult, got %T", ev)
	assert.Equal(t, good, result.Token())
}

func TestConnectionLostDuringExecute(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.executeFn = func(ctx context.Context, sql string) (*db.QueryOutcome, error) {
		return nil, &db.QueryError{Kind: db.QueryConnectionLost, Summary: "connection to the database was lost"}
	}
	h := startSession(t, adapter)
	connect(t, h)

	token := session.NewToken()
	require.NoError(t, h.Submit(session.Execute(token, "SELECT 1")))
	nextEvent(t, h) // QueryStarted

	ev := nextEvent(t, h)
	closed, ok := ev.(session.ConnectionClosed)
	require.True(t, ok, "expected ConnectionClosed, got %T", ev)
	assert.Equal(t, token, closed.Token())
	assert.False(t, closed.Reason.UserRequested)
	<-h.Done()
	assert.True(t, adapter.wasDisconnected(), "adapter not torn down after connection loss")
}

func TestServerInitiatedCloseWhileIdle(t *testing.T) {
	adapter := newFakeAdapter()
	h := startSession(t, adapter)
	connect(t, h)

	cause := errors.New("server closed the connection unexpectedly")
	adapter.done <- db.CloseReason{Err: cause}
	close(adapter.done)

	ev := nextEvent(t, h)
	closed, ok := ev.(session.ConnectionClosed)
	require.True(t, ok, "expected ConnectionClosed, got %T", ev)
	assert.Empty(t, closed.Token())
	assert.ErrorIs(t, closed.Reason.Err, cause)
	<-h.Done()
	assert.True(t, adapter.wasDisconnected(), "adapter not torn down after server close")
}

func TestCancelInFlightCommand(t *testing.T) {
	adapter := newFakeAdapter()
	started := make(chan struct{})
	release := make(chan struct{})
	adapter.executeFn = func(ctx context.Context, sql string) (*db.QueryOutcome, error) {
		close(started)
		<-release
		return &db.QueryOutcome{RowCount: 1}, nil
	}
	adapter.cancelFn = func(ctx context.Context) error {
		close(release)
		return nil
	}
	h := startSession(t, adapter)
	connect(t, h)

	target := session.NewToken()
	require.NoError(t, h.Submit(session.Execute(target, "SELECT pg_sleep(60)")))
	nextEvent(t, h) // QueryStarted

	select {
	case <-started:
	case <-time.After(eventWait):
		t.Fatal("execute never started")
	}
	cancelToken := session.NewToken()
	require.NoError(t, h.Submit(session.Cancel(cancelToken, target)))

	ev := nextEvent(t, h)
	cancelled, ok := ev.(session.Cancelled)
	require.True(t, ok, "expected Cancelled, got %T", ev)
	assert.Equal(t, cancelToken, cancelled.Token())
	assert.Equal(t, target, cancelled.Target)

	// The cancelled command never produces a success event; the session is
	// immediately usable again.
	good := session.NewToken()
	require.NoError(t, h.Submit(session.ListSchemas(good)))
	ev = nextEvent(t, h)
	schemas, ok := ev.(session.SchemasLoaded)
	require.True(t, ok, "expected SchemasLoaded, got %T", ev)
	assert.Equal(t, good, schemas.Token())
}

func TestCancelWithoutMatchIsRejected(t *testing.T) {
	h := startSession(t, newFakeAdapter())
	connect(t, h)

	token := session.NewToken()
	require.NoError(t, h.Submit(session.Cancel(token, session.NewToken())))

	ev := nextEvent(t, h)
	rejected, ok := ev.(session.CommandRejected)
	require.True(t, ok, "expected CommandRejected, got %T", ev)
	assert.Equal(t, token, rejected.Token())
	assert.Equal(t, session.CmdCancel, rejected.Command)
}

func TestMetadataFlows(t *testing.T) {
	h := startSession(t, newFakeAdapter())
	connect(t, h)

	require.NoError(t, h.Submit(session.ListSchemas(session.NewToken())))
	schemas := nextEvent(t, h).(session.SchemasLoaded)
	assert.Equal(t, []string{"public"}, schemas.Schemas)

	require.NoError(t, h.Submit(session.ListTables(session.NewToken(), "public")))
	tables := nextEvent(t, h).(session.TablesLoaded)
	assert.Equal(t, "public", tables.Schema)
	assert.Equal(t, []string{"users"}, tables.Tables)

	require.NoError(t, h.Submit(session.ListColumns(session.NewToken(), "public", "users")))
	columns := nextEvent(t, h).(session.ColumnsLoaded)
	require.Len(t, columns.Columns, 1)
	assert.Equal(t, "id", columns.Columns[0].Name)

	require.NoError(t, h.Submit(session.Preview(session.NewToken(), "public", "users", 10)))
	nextEvent(t, h) // QueryStarted
	preview := nextEvent(t, h).(session.PreviewResult)
	assert.Equal(t, "users", preview.Table)
}

func TestConnectWhileConnectedIsRejected(t *testing.T) {
	h := startSession(t, newFakeAdapter())
	connect(t, h)

	token := session.NewToken()
	require.NoError(t, h.Submit(session.Connect(token, db.Credential{})))
	ev := nextEvent(t, h)
	rejected, ok := ev.(session.CommandRejected)
	require.True(t, ok, "expected CommandRejected, got %T", ev)
	assert.Equal(t, session.CmdConnect, rejected.Command)
	assert.Equal(t, session.StateConnected, h.State())
}
