// Package session provides the SSE session table for the gateway.
package session

import (
	"sync"
	"time"
)

// defaultChannelBuffer is the per-session outbound message buffer.
const defaultChannelBuffer = 100

// SSESession is one connected SSE client. Writes to the stream are
// serialized through the buffered message channel; the connection handler is
// the only reader.
type SSESession struct {
	id        string
	principal string
	peerAddr  string
	created   time.Time

	mu           sync.RWMutex
	updated      time.Time
	disconnected bool
	messageCh    chan string
}

// NewSSESession creates a session for an authenticated peer.
func NewSSESession(id, principal, peerAddr string) *SSESession {
	now := time.Now()
	return &SSESession{
		id:        id,
		principal: principal,
		peerAddr:  peerAddr,
		created:   now,
		updated:   now,
		messageCh: make(chan string, defaultChannelBuffer),
	}
}

// ID returns the session ID.
func (s *SSESession) ID() string { return s.id }

// Principal returns the authenticated principal that opened the session.
func (s *SSESession) Principal() string { return s.principal }

// PeerAddr returns the remote peer address, for logging.
func (s *SSESession) PeerAddr() string { return s.peerAddr }

// CreatedAt returns the creation time of the session.
func (s *SSESession) CreatedAt() time.Time { return s.created }

// UpdatedAt returns the last activity time of the session.
func (s *SSESession) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Touch updates the session's last activity time to the current time.
func (s *SSESession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = time.Now()
}

// Messages returns the channel the connection handler drains onto the wire.
func (s *SSESession) Messages() <-chan string {
	return s.messageCh
}

// SendMessage queues an SSE-formatted string for delivery. It never blocks:
// a full channel or a disconnected session returns an error instead.
func (s *SSESession) SendMessage(sseString string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.disconnected {
		return ErrSessionDisconnected
	}
	select {
	case s.messageCh <- sseString:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// Disconnect marks the session closed and closes its channel. Safe to call
// more than once.
func (s *SSESession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return
	}
	s.disconnected = true
	close(s.messageCh)
}

// Disconnected reports whether the session has been closed.
func (s *SSESession) Disconnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disconnected
}
