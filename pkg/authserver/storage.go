package authserver

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClientNotFound is returned for unknown client ids.
var ErrClientNotFound = errors.New("client not found")

// ErrCodeNotFound is returned for unknown, expired, or already-consumed
// authorization codes.
var ErrCodeNotFound = errors.New("authorization code not found")

// CodeTTL bounds how long an authorization code may be exchanged.
const CodeTTL = 10 * time.Minute

// Client is a registered OAuth client.
type Client struct {
	ID                      string    `json:"client_id"`
	Secret                  string    `json:"client_secret"`
	Name                    string    `json:"client_name"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	Scope                   string    `json:"scope"`
	CreatedAt               time.Time `json:"created_at"`
}

// MatchesRedirectURI reports whether the presented URI is acceptable for
// this client.
func (c *Client) MatchesRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if matchRedirectURI(registered, uri) {
			return true
		}
	}
	return false
}

// ClientStore persists registered clients. Reads are concurrent; writes are
// serialized by the implementation.
type ClientStore interface {
	Put(ctx context.Context, client *Client) error
	Get(ctx context.Context, id string) (*Client, error)
	Close() error
}

// MemoryClientStore keeps clients in process memory. Registrations do not
// survive a restart; clients re-register via DCR.
type MemoryClientStore struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewMemoryClientStore creates an empty in-memory store.
func NewMemoryClientStore() *MemoryClientStore {
	return &MemoryClientStore{clients: make(map[string]*Client)}
}

// Put stores a client.
func (s *MemoryClientStore) Put(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
	return nil
}

// Get returns a client by id.
func (s *MemoryClientStore) Get(_ context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	return client, nil
}

// Close is a no-op.
func (*MemoryClientStore) Close() error { return nil }

// authCode is a stored single-use authorization code record.
type authCode struct {
	Code          string
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	Scope         string
	Subject       string
	ExpiresAt     time.Time
}

// CodeStore holds pending authorization codes. Codes are short-lived, so
// memory is the only backing; a restart invalidates pending codes, which the
// client recovers from by restarting its flow.
type CodeStore struct {
	mu    sync.Mutex
	codes map[string]*authCode
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewCodeStore creates a code store and starts its expiry sweeper.
func NewCodeStore() *CodeStore {
	s := &CodeStore{
		codes: make(map[string]*authCode),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *CodeStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for code, record := range s.codes {
				if now.After(record.ExpiresAt) {
					delete(s.codes, code)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Put stores a code record.
func (s *CodeStore) Put(record *authCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[record.Code] = record
}

// Consume atomically removes and returns a code record. A second call with
// the same code fails, which is what makes codes single-use.
func (s *CodeStore) Consume(code string) (*authCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	delete(s.codes, code)
	if s.now().After(record.ExpiresAt) {
		return nil, ErrCodeNotFound
	}
	return record, nil
}

// Len returns the number of pending codes.
func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// Close stops the sweeper.
func (s *CodeStore) Close() {
	s.once.Do(func() { close(s.stop) })
}
