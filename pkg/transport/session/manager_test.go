package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuietManager(opts ...Option) *Manager {
	// A long sweep interval keeps the background sweeper out of the way.
	base := []Option{WithSweepInterval(time.Hour)}
	return NewManager(append(base, opts...)...)
}

func TestManagerAddAndGet(t *testing.T) {
	t.Parallel()

	m := newQuietManager()
	defer m.Stop()

	s := NewSSESession("s1", "anonymous", "127.0.0.1:1234")
	require.NoError(t, m.Add(s))
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get("s1")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManagerAddDuplicateID(t *testing.T) {
	t.Parallel()

	m := newQuietManager()
	defer m.Stop()

	require.NoError(t, m.Add(NewSSESession("dup", "anonymous", "")))
	err := m.Add(NewSSESession("dup", "anonymous", ""))
	assert.ErrorIs(t, err, ErrSessionAlreadyExists)
	assert.Equal(t, 1, m.Count())
}

func TestManagerEvictsLeastRecentlyActiveAtCap(t *testing.T) {
	t.Parallel()

	m := newQuietManager(WithMaxSessions(3))
	defer m.Stop()

	a := NewSSESession("a", "anonymous", "")
	b := NewSSESession("b", "anonymous", "")
	c := NewSSESession("c", "anonymous", "")
	require.NoError(t, m.Add(a))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Add(b))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Add(c))

	// Touching "a" via Get makes "b" the least-recently-active session.
	time.Sleep(5 * time.Millisecond)
	_, ok := m.Get("a")
	require.True(t, ok)

	d := NewSSESession("d", "anonymous", "")
	require.NoError(t, m.Add(d))

	assert.Equal(t, 3, m.Count())
	_, ok = m.Get("b")
	assert.False(t, ok, "least-recently-active session should be evicted")
	assert.True(t, b.Disconnected())

	for _, id := range []string{"a", "c", "d"} {
		_, ok := m.Get(id)
		assert.True(t, ok, "session %s should survive", id)
	}
}

func TestManagerCleanupExpired(t *testing.T) {
	t.Parallel()

	m := newQuietManager(WithIdleTimeout(20 * time.Millisecond))
	defer m.Stop()

	stale := NewSSESession("stale", "anonymous", "")
	require.NoError(t, m.Add(stale))

	time.Sleep(30 * time.Millisecond)

	fresh := NewSSESession("fresh", "anonymous", "")
	require.NoError(t, m.Add(fresh))

	m.CleanupExpired()

	_, ok := m.Get("stale")
	assert.False(t, ok)
	assert.True(t, stale.Disconnected())

	_, ok = m.Get("fresh")
	assert.True(t, ok)
	assert.False(t, fresh.Disconnected())
}

func TestManagerStopDisconnectsAll(t *testing.T) {
	t.Parallel()

	m := newQuietManager()
	s1 := NewSSESession("s1", "anonymous", "")
	s2 := NewSSESession("s2", "anonymous", "")
	require.NoError(t, m.Add(s1))
	require.NoError(t, m.Add(s2))

	m.Stop()
	m.Stop() // idempotent

	assert.Equal(t, 0, m.Count())
	assert.True(t, s1.Disconnected())
	assert.True(t, s2.Disconnected())
}

func TestManagerRange(t *testing.T) {
	t.Parallel()

	m := newQuietManager()
	defer m.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Add(NewSSESession(id, "anonymous", "")))
	}

	seen := 0
	m.Range(func(*SSESession) bool {
		seen++
		return true
	})
	assert.Equal(t, 3, seen)

	seen = 0
	m.Range(func(*SSESession) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen)
}

func TestSessionSendAndDisconnect(t *testing.T) {
	t.Parallel()

	s := NewSSESession("s", "alice", "10.0.0.1:9")
	assert.Equal(t, "s", s.ID())
	assert.Equal(t, "alice", s.Principal())
	assert.Equal(t, "10.0.0.1:9", s.PeerAddr())

	require.NoError(t, s.SendMessage("data: hello\n\n"))
	assert.Equal(t, "data: hello\n\n", <-s.Messages())

	s.Disconnect()
	s.Disconnect() // safe to repeat

	assert.True(t, s.Disconnected())
	assert.ErrorIs(t, s.SendMessage("data: late\n\n"), ErrSessionDisconnected)

	// Channel is closed after disconnect.
	_, open := <-s.Messages()
	assert.False(t, open)
}

func TestSessionSendFullChannel(t *testing.T) {
	t.Parallel()

	s := NewSSESession("s", "anonymous", "")
	for i := 0; i < defaultChannelBuffer; i++ {
		require.NoError(t, s.SendMessage("data: x\n\n"))
	}
	assert.ErrorIs(t, s.SendMessage("data: overflow\n\n"), ErrMessageChannelFull)
}

func TestSessionTouchAdvancesUpdatedAt(t *testing.T) {
	t.Parallel()

	s := NewSSESession("s", "anonymous", "")
	before := s.UpdatedAt()
	time.Sleep(5 * time.Millisecond)
	s.Touch()
	assert.True(t, s.UpdatedAt().After(before))
}
