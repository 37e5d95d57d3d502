// Package graph provides the Neo4j access layer for the gateway.
//
// The driver's connection pool is the only place where connections exist;
// everything above this package talks to the narrow Store interface so the
// pipeline and the tool handlers can be tested against a fake.
package graph

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"

	apperrors "github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

// Record is one row of a query result, keyed by the returned column names.
type Record = map[string]any

// Tx runs statements inside a single managed transaction.
type Tx interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]Record, error)
}

// Store is the narrow graph database surface used by the rest of the gateway.
type Store interface {
	// Read runs a single auto-commit read query.
	Read(ctx context.Context, cypher string, params map[string]any) ([]Record, error)

	// Write runs fn inside one managed write transaction. If fn returns an
	// error the whole transaction rolls back.
	Write(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close releases the driver and its pool.
	Close(ctx context.Context) error
}

// Config holds the connection settings for the Neo4j store.
type Config struct {
	URI      string
	Username string
	Password string
	Timeout  time.Duration
	PoolSize int
}

// Neo4jStore implements Store on top of the official Neo4j driver.
type Neo4jStore struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
}

// Connect creates the driver and verifies connectivity, retrying with
// exponential backoff while the database container comes up.
func Connect(ctx context.Context, cfg Config) (*Neo4jStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 25
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *config.Config) {
			c.MaxConnectionPoolSize = cfg.PoolSize
		},
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("failed to create database driver", err)
	}

	verify := func() (struct{}, error) {
		return struct{}{}, driver.VerifyConnectivity(ctx)
	}
	if _, err := backoff.Retry(ctx, verify,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(time.Minute),
	); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewDatabaseError("database unreachable", err)
	}

	logger.Infof("connected to graph database at %s", cfg.URI)
	return &Neo4jStore{driver: driver, timeout: cfg.Timeout}, nil
}

// Read runs a single auto-commit read query with the per-call timeout.
func (s *Neo4jStore) Read(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.([]Record), nil
}

// Write runs fn inside one managed write transaction.
func (s *Neo4jStore) Write(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, &managedTx{tx: tx})
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the driver and its connection pool.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// managedTx adapts a driver transaction to the Tx interface.
type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m *managedTx) Run(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	return collect(ctx, m.tx, cypher, params)
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]Record, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	rows, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(row.Keys))
		for i, key := range row.Keys {
			rec[key] = row.Values[i]
		}
		records = append(records, rec)
	}
	return records, nil
}

func classify(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("database query timed out", err)
	}
	var appErr *apperrors.Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewDatabaseError("database query failed", err)
}
