package session

import (
	"errors"

	"github.com/mirulabs/dbmiru/internal/profile"
)

// ErrSessionClosed reports a submit against a session that already reached
// its terminal state.
var ErrSessionClosed = errors.New("session: closed")

// ErrQueueFull reports that the command queue is at capacity. The caller
// should wait for outstanding commands to finish before submitting more.
var ErrQueueFull = errors.New("session: command queue full")

// Handle is the caller-facing proxy for one session. It is a small value,
// freely copyable, and safe for concurrent use; it exposes everything the
// collaborator layer is permitted to touch.
type Handle struct {
	w *Worker
}

// Profile returns the profile this session was opened for.
func (h Handle) Profile() profile.ConnectionProfile {
	return h.w.profile
}

// Submit enqueues a command. Commands are processed strictly in submission
// order; Cancel is routed out of band so it can interrupt the in-flight
// operation instead of queuing behind it.
func (h Handle) Submit(cmd Command) error {
	select {
	case <-h.w.done:
		return ErrSessionClosed
	default:
	}

	if cmd.Kind == CmdCancel {
		h.w.requestCancel(cmd)
		return nil
	}

	select {
	case h.w.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel requests cancellation of the in-flight command identified by
// target. Shorthand for submitting a Cancel command with a fresh token.
func (h Handle) Cancel(target Token) error {
	return h.Submit(Cancel(NewToken(), target))
}

// Events returns the session's serialized event stream. The channel closes
// once the session reaches its terminal Disconnected state.
func (h Handle) Events() <-chan Event {
	return h.w.events
}

// State returns the session's current connection state.
func (h Handle) State() State {
	return h.w.State()
}

// Done closes when the session has fully terminated.
func (h Handle) Done() <-chan struct{} {
	return h.w.done
}
