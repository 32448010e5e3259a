// Package session implements the async database session runtime: one worker
// goroutine per connection, a FIFO command queue in, a serialized event
// stream out. Callers never touch the adapter directly; they submit commands
// through a Handle and observe state changes through events.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mirulabs/dbmiru/internal/db"
	"github.com/mirulabs/dbmiru/internal/profile"
)

const (
	defaultQueueSize         = 32
	defaultEventBuffer       = 128
	defaultDisconnectTimeout = 5 * time.Second
	cancelRequestTimeout     = 5 * time.Second
)

// Options tunes a session worker. The zero value is usable.
type Options struct {
	// ConnectTimeout bounds connect attempts. Zero means no explicit bound
	// beyond the adapter's own.
	ConnectTimeout time.Duration

	// DisconnectTimeout bounds the graceful close during teardown.
	DisconnectTimeout time.Duration

	// QueueSize is the command queue capacity.
	QueueSize int

	// EventBuffer is the event stream capacity. Sends block when the
	// collaborator stops draining, so failures are never silently dropped.
	EventBuffer int

	// Logger receives worker lifecycle logs. Nil discards.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = defaultDisconnectTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Worker owns one adapter and its connection. All adapter calls happen on
// the worker's goroutine, one command at a time: the queue serializes access
// to the single underlying connection.
type Worker struct {
	profile profile.ConnectionProfile
	adapter db.Adapter
	opts    Options
	log     *slog.Logger

	commands chan Command
	events   chan Event
	done     chan struct{}

	mu            sync.Mutex
	state         State
	inflight      bool
	inflightToken Token
	inflightKind  CommandKind
	cancelPending bool
	cancelToken   Token
}

// NewWorker creates a session worker and starts its goroutine. The session
// begins Disconnected and waits for a Connect command.
func NewWorker(p profile.ConnectionProfile, adapter db.Adapter, opts Options) *Worker {
	opts = opts.withDefaults()
	w := &Worker{
		profile:  p,
		adapter:  adapter,
		opts:     opts,
		log:      opts.Logger.With("component", "session", "profile", p.Name),
		commands: make(chan Command, opts.QueueSize),
		events:   make(chan Event, opts.EventBuffer),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
	go w.run()
	return w
}

// Handle returns the caller-facing proxy for this worker.
func (w *Worker) Handle() Handle {
	return Handle{w: w}
}

// State returns the current connection state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Executing reports the kind of the in-flight operation, if any.
func (w *Worker) Executing() (CommandKind, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inflightKind, w.inflight
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) emit(ev Event) {
	w.events <- ev
}

// run is the worker loop: dequeue one command, drive it to a terminal event,
// repeat. The adapter's liveness channel is watched between commands so
// server-initiated disconnects surface while idle.
func (w *Worker) run() {
	defer close(w.done)
	defer close(w.events)

	liveness := w.adapter.Done()
	for {
		select {
		case reason, ok := <-liveness:
			liveness = nil
			if !ok {
				continue
			}
			w.connectionEnded(Token(""), reason)
			return
		case cmd := <-w.commands:
			if w.dispatch(cmd) {
				return
			}
		}
	}
}

// dispatch processes one command. It returns true when the session reached
// its terminal Disconnected state and the worker should exit.
func (w *Worker) dispatch(cmd Command) bool {
	switch cmd.Kind {
	case CmdConnect:
		return w.dispatchConnect(cmd)
	case CmdDisconnect:
		return w.dispatchDisconnect(cmd)
	case CmdCancel:
		// A queued Cancel is only dequeued when nothing is in flight.
		w.emit(CommandRejected{base{cmd.Token}, CmdCancel, "no command in flight"})
		return false
	default:
		return w.dispatchOperation(cmd)
	}
}

func (w *Worker) dispatchConnect(cmd Command) bool {
	if s := w.State(); s != StateDisconnected {
		w.reject(cmd, s)
		return false
	}
	w.setState(StateConnecting)

	ctx := context.Background()
	if w.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.ConnectTimeout)
		defer cancel()
	}

	info, err := w.adapter.Connect(ctx, cmd.Credential)
	if err != nil {
		w.setState(StateDisconnected)
		w.log.Debug("connect failed", "err", err)
		w.emit(ConnectionClosed{base{cmd.Token}, db.CloseReason{Err: err}})
		return true
	}

	w.setState(StateConnected)
	w.emit(Connected{base{cmd.Token}, info})
	return false
}

func (w *Worker) dispatchDisconnect(cmd Command) bool {
	if w.State() == StateDisconnected {
		// Idempotent: confirm rather than error.
		w.emit(ConnectionClosed{base{cmd.Token}, db.CloseReason{UserRequested: true}})
		return true
	}

	w.setState(StateDisconnecting)
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.DisconnectTimeout)
	w.adapter.Disconnect(ctx)
	cancel()

	w.setState(StateDisconnected)
	w.emit(ConnectionClosed{base{cmd.Token}, db.CloseReason{UserRequested: true}})
	return true
}

// dispatchOperation runs Execute, Preview or a metadata lookup against the
// adapter and converts the outcome into exactly one terminal event.
func (w *Worker) dispatchOperation(cmd Command) bool {
	if s := w.State(); s != StateConnected {
		w.reject(cmd, s)
		return false
	}
	if !w.beginOp(cmd.Token, cmd.Kind) {
		// Unreachable by construction: dispatch is the only site that sets
		// the in-flight flag and it runs on this goroutine alone.
		w.log.Error("command accepted while another is in flight", "command", cmd.Kind.String())
		w.reject(cmd, StateExecuting)
		return false
	}

	ctx := context.Background()
	var ev Event
	var lost db.CloseReason
	var isLost bool

	switch cmd.Kind {
	case CmdExecute:
		w.emit(QueryStarted{base{cmd.Token}})
		outcome, err := w.adapter.Execute(ctx, cmd.SQL)
		ev, lost, isLost = w.queryOutcomeEvent(cmd, outcome, err)
	case CmdPreview:
		w.emit(QueryStarted{base{cmd.Token}})
		outcome, err := w.adapter.Preview(ctx, cmd.Schema, cmd.Table, cmd.Limit)
		ev, lost, isLost = w.queryOutcomeEvent(cmd, outcome, err)
	case CmdListSchemas:
		schemas, err := w.adapter.ListSchemas(ctx)
		ev, lost, isLost = w.metadataEvent(cmd, SchemasLoaded{base{cmd.Token}, schemas}, err)
	case CmdListTables:
		tables, err := w.adapter.ListTables(ctx, cmd.Schema)
		ev, lost, isLost = w.metadataEvent(cmd, TablesLoaded{base{cmd.Token}, cmd.Schema, tables}, err)
	case CmdListColumns:
		columns, err := w.adapter.ListColumns(ctx, cmd.Schema, cmd.Table)
		ev, lost, isLost = w.metadataEvent(cmd, ColumnsLoaded{base{cmd.Token}, cmd.Schema, cmd.Table, columns}, err)
	default:
		w.endOp()
		w.emit(CommandRejected{base{cmd.Token}, cmd.Kind, "unsupported command"})
		return false
	}

	cancelled, cancelToken := w.endOp()
	if cancelled {
		// The cancelled token gets no success event; a late result is
		// dropped here and the caller ignores stragglers by token mismatch.
		w.log.Debug("dropping result for cancelled command", "command", cmd.Kind.String())
		w.emit(Cancelled{base{cancelToken}, cmd.Token})
		if isLost {
			return w.connectionEnded(Token(""), lost)
		}
		return false
	}

	if isLost {
		return w.connectionEnded(cmd.Token, lost)
	}
	w.emit(ev)
	return false
}

// queryOutcomeEvent maps an Execute/Preview result to its event, separating
// connection loss from statement failure.
func (w *Worker) queryOutcomeEvent(cmd Command, outcome *db.QueryOutcome, err error) (Event, db.CloseReason, bool) {
	if err == nil {
		if cmd.Kind == CmdPreview {
			return PreviewResult{base{cmd.Token}, cmd.Schema, cmd.Table, outcome}, db.CloseReason{}, false
		}
		return QueryResult{base{cmd.Token}, outcome}, db.CloseReason{}, false
	}

	var qerr *db.QueryError
	if errors.As(err, &qerr) {
		if qerr.Kind == db.QueryConnectionLost {
			return nil, db.CloseReason{Err: err}, true
		}
		return QueryError{base{cmd.Token}, qerr.Kind, qerr.Summary, qerr.Detail}, db.CloseReason{}, false
	}
	return QueryError{base{cmd.Token}, db.QueryRuntime, "query failed", err.Error()}, db.CloseReason{}, false
}

// metadataEvent maps a metadata lookup result to its event.
func (w *Worker) metadataEvent(cmd Command, success Event, err error) (Event, db.CloseReason, bool) {
	if err == nil {
		return success, db.CloseReason{}, false
	}

	var merr *db.MetadataError
	if errors.As(err, &merr) {
		if merr.Kind == db.MetadataConnectionLost {
			return nil, db.CloseReason{Err: err}, true
		}
		return MetadataError{base{cmd.Token}, merr.Kind, merr.Summary, merr.Detail}, db.CloseReason{}, false
	}
	return MetadataError{base{cmd.Token}, db.MetadataRuntime, "metadata lookup failed", err.Error()}, db.CloseReason{}, false
}

// connectionEnded transitions to Disconnected after an unrequested close and
// terminates the worker. The adapter is torn down best effort so the dead
// connection and its keepalive goroutine are released promptly.
func (w *Worker) connectionEnded(token Token, reason db.CloseReason) bool {
	w.setState(StateDisconnected)
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.DisconnectTimeout)
	w.adapter.Disconnect(ctx)
	cancel()
	w.log.Debug("connection ended", "reason", reason.String())
	w.emit(ConnectionClosed{base{token}, reason})
	return true
}

func (w *Worker) reject(cmd Command, s State) {
	w.emit(CommandRejected{
		base:    base{cmd.Token},
		Command: cmd.Kind,
		Reason:  fmt.Sprintf("%s not allowed while %s", cmd.Kind, s),
	})
}

// beginOp marks a command in flight. It fails if one already is, which the
// single dispatch site makes impossible.
func (w *Worker) beginOp(token Token, kind CommandKind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight {
		return false
	}
	w.inflight = true
	w.inflightToken = token
	w.inflightKind = kind
	w.state = StateExecuting
	return true
}

// endOp clears the in-flight flag and reports whether a cancel was requested
// for the command that just finished.
func (w *Worker) endOp() (bool, Token) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight = false
	w.inflightToken = ""
	cancelled := w.cancelPending
	token := w.cancelToken
	w.cancelPending = false
	w.cancelToken = ""
	if w.state == StateExecuting {
		w.state = StateConnected
	}
	return cancelled, token
}

// requestCancel handles a Cancel command out of band: it must interrupt the
// in-flight operation, so it cannot wait its turn in the queue.
func (w *Worker) requestCancel(cmd Command) {
	w.mu.Lock()
	match := w.inflight && w.inflightToken == cmd.Target
	if match {
		w.cancelPending = true
		w.cancelToken = cmd.Token
	}
	w.mu.Unlock()

	if !match {
		w.emit(CommandRejected{base{cmd.Token}, CmdCancel, "no matching in-flight command"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cancelRequestTimeout)
		defer cancel()
		if err := w.adapter.Cancel(ctx); err != nil {
			w.log.Debug("cancel request failed", "err", err)
		}
	}()
}
