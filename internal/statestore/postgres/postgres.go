// Package postgres stores Mentara documents in a PostgreSQL table.
//
// Every document is one row of app_documents keyed by its storage key, with
// the body kept as JSONB. Saves are upserts, so the last write wins.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/mentara/internal/statestore"
)

var (
	_ statestore.Store  = (*Store)(nil)
	_ statestore.Pinger = (*Store)(nil)
)

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS app_documents (
    key         TEXT         PRIMARY KEY,
    body        JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const (
	selectDocument = `SELECT body FROM app_documents WHERE key = $1`
	upsertDocument = `
INSERT INTO app_documents (key, body, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`
)

// Store is a PostgreSQL-backed [statestore.Store].
type Store struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

// New connects to dsn, checks the connection and creates the documents table
// if it does not exist yet.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the documents table. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDocuments); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// Load implements [statestore.Store].
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, selectDocument, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: load %q: %w", key, statestore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: load %q: %w", key, err)
	}
	return body, nil
}

// Save implements [statestore.Store]. body must be valid JSON.
func (s *Store) Save(ctx context.Context, key string, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("postgres store: save %q: body is not valid JSON", key)
	}
	if _, err := s.pool.Exec(ctx, upsertDocument, key, string(body)); err != nil {
		return fmt.Errorf("postgres store: save %q: %w", key, err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}
