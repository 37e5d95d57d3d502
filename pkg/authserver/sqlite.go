package authserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteClientStore persists registered clients in a local SQLite file so
// registrations survive restarts on hosts with a mounted volume.
type SQLiteClientStore struct {
	db *sql.DB
}

// NewSQLiteClientStore opens (and if needed creates) the client database.
func NewSQLiteClientStore(path string) (*SQLiteClientStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open client database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent registration.
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS oauth_clients (
			id TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			name TEXT NOT NULL,
			redirect_uris TEXT NOT NULL,
			grant_types TEXT NOT NULL,
			response_types TEXT NOT NULL,
			auth_method TEXT NOT NULL,
			scope TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize client database: %w", err)
	}
	return &SQLiteClientStore{db: db}, nil
}

// Put stores or replaces a client.
func (s *SQLiteClientStore) Put(ctx context.Context, client *Client) error {
	uris, err := json.Marshal(client.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to encode redirect_uris: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO oauth_clients
			(id, secret, name, redirect_uris, grant_types, response_types, auth_method, scope, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID,
		client.Secret,
		client.Name,
		string(uris),
		strings.Join(client.GrantTypes, " "),
		strings.Join(client.ResponseTypes, " "),
		client.TokenEndpointAuthMethod,
		client.Scope,
		client.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

// Get returns a client by id.
func (s *SQLiteClientStore) Get(ctx context.Context, id string) (*Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, secret, name, redirect_uris, grant_types, response_types, auth_method, scope, created_at
		FROM oauth_clients WHERE id = ?`, id)

	var client Client
	var uris, grants, responses, createdAt string
	err := row.Scan(&client.ID, &client.Secret, &client.Name, &uris,
		&grants, &responses, &client.TokenEndpointAuthMethod, &client.Scope, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	if err := json.Unmarshal([]byte(uris), &client.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to decode redirect_uris: %w", err)
	}
	client.GrantTypes = strings.Fields(grants)
	client.ResponseTypes = strings.Fields(responses)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		client.CreatedAt = t
	}
	return &client, nil
}

// Close closes the database.
func (s *SQLiteClientStore) Close() error {
	return s.db.Close()
}
