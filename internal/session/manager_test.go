package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirulabs/dbmiru/internal/db"
	"github.com/mirulabs/dbmiru/internal/profile"
	"github.com/mirulabs/dbmiru/internal/session"
)

func newManager() *session.Manager {
	return session.NewManager(func(p profile.ConnectionProfile) db.Adapter {
		return newFakeAdapter()
	}, session.Options{})
}

func TestOpenSessionIsOnePerProfile(t *testing.T) {
	m := newManager()
	p := testProfile()

	h1 := m.OpenSession(p)
	h2 := m.OpenSession(p)
	assert.Equal(t, h1, h2, "same profile must share one session")

	other := testProfile()
	h3 := m.OpenSession(other)
	assert.NotEqual(t, h1, h3, "distinct profile ids get distinct sessions")
}

func TestSessionLookupAndRemoval(t *testing.T) {
	m := newManager()
	p := testProfile()

	h := m.OpenSession(p)
	got, ok := m.Session(p.ID)
	require.True(t, ok)
	assert.Equal(t, h, got)

	connect(t, h)
	m.CloseSession(p.ID)

	select {
	case <-h.Done():
	case <-time.After(eventWait):
		t.Fatal("session did not terminate")
	}

	// The mapping entry goes away once the worker terminates.
	assert.Eventually(t, func() bool {
		_, ok := m.Session(p.ID)
		return !ok
	}, eventWait, 10*time.Millisecond)
}

func TestCloseSessionUnknownProfileIsNoop(t *testing.T) {
	m := newManager()
	m.CloseSession(profile.NewID())
}

func TestReopenAfterClose(t *testing.T) {
	m := newManager()
	p := testProfile()

	h := m.OpenSession(p)
	connect(t, h)
	m.CloseSession(p.ID)
	<-h.Done()

	require.Eventually(t, func() bool {
		_, ok := m.Session(p.ID)
		return !ok
	}, eventWait, 10*time.Millisecond)

	fresh := m.OpenSession(p)
	assert.NotEqual(t, h, fresh)
	connect(t, fresh)
}

func TestShutdownDisconnectsAll(t *testing.T) {
	m := newManager()

	first := m.OpenSession(testProfile())
	second := m.OpenSession(testProfile())
	connect(t, first)
	connect(t, second)

	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	select {
	case <-first.Done():
	default:
		t.Fatal("first session still live after shutdown")
	}
	select {
	case <-second.Done():
	default:
		t.Fatal("second session still live after shutdown")
	}
}
