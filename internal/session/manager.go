package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mirulabs/dbmiru/internal/db"
	"github.com/mirulabs/dbmiru/internal/profile"
)

// AdapterFactory builds a fresh adapter for a profile. Called once per
// session; the worker owns the result exclusively.
type AdapterFactory func(p profile.ConnectionProfile) db.Adapter

// Manager maps profile ids to at most one live session each. The mutex
// covers only the map; per-session traffic flows through the workers
// untouched.
type Manager struct {
	factory AdapterFactory
	opts    Options
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[profile.ID]Handle
}

// NewManager creates a manager that builds adapters with factory and session
// workers with opts.
func NewManager(factory AdapterFactory, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		factory:  factory,
		opts:     opts,
		log:      opts.Logger.With("component", "manager"),
		sessions: make(map[profile.ID]Handle),
	}
}

// OpenSession returns the live session for the profile, creating a worker if
// none exists. At most one session per profile id is ever live; opening an
// already-open profile returns the existing handle.
func (m *Manager) OpenSession(p profile.ConnectionProfile) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.sessions[p.ID]; ok {
		return h
	}

	w := NewWorker(p, m.factory(p), m.opts)
	h := w.Handle()
	m.sessions[p.ID] = h

	// Remove the entry once the worker reports terminal Disconnected,
	// whatever caused it.
	go func(id profile.ID) {
		<-h.Done()
		m.mu.Lock()
		// Only remove our own entry: a new session for the same profile may
		// have been opened after this one terminated.
		if cur, ok := m.sessions[id]; ok && cur.w == h.w {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		m.log.Debug("session removed", "profile", id)
	}(p.ID)

	return h
}

// Session returns the live session for a profile id, if any.
func (m *Manager) Session(id profile.ID) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[id]
	return h, ok
}

// CloseSession asks the session for a profile id to disconnect. The mapping
// entry is removed once the worker reports Disconnected. Closing a profile
// with no live session is a no-op.
func (m *Manager) CloseSession(id profile.ID) {
	m.mu.Lock()
	h, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := h.Submit(Disconnect(NewToken())); err != nil {
		m.log.Debug("close session", "profile", id, "err", err)
	}
}

// Shutdown disconnects every live session and waits for them to terminate,
// bounded by ctx, so half-closed connections are not leaked on exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		if err := h.Submit(Disconnect(NewToken())); err != nil {
			m.log.Debug("shutdown disconnect", "profile", h.Profile().ID, "err", err)
		}
	}

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
