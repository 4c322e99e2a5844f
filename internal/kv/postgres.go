package kv

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// PostgresStore is the durable Store implementation backed by a single
// kv_entries table.
type PostgresStore struct {
	db *sqlx.DB
}

// Connect opens the database and runs migrations.
func Connect(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
            key TEXT PRIMARY KEY,
            value BYTEA NOT NULL,
            expires_at TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries (expires_at);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}

// Get returns the value stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := `SELECT value FROM kv_entries WHERE key=$1 AND (expires_at IS NULL OR expires_at > NOW())`
	if err := s.db.GetContext(ctx, &value, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Set writes value under key with an optional TTL.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	query := `INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`
	_, err := s.db.ExecContext(ctx, query, key, value, nullableTime(expiresAt))
	return err
}

// Update applies fn to the current value inside a transaction holding a row
// lock, so concurrent updates on the same key serialize.
func (s *PostgresStore) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, time.Time, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var row struct {
		Value     []byte       `db:"value"`
		ExpiresAt sql.NullTime `db:"expires_at"`
	}
	query := `SELECT value, expires_at FROM kv_entries WHERE key=$1
        AND (expires_at IS NULL OR expires_at > NOW()) FOR UPDATE`
	if err := tx.GetContext(ctx, &row, query, key); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	next, expiresAt, err := fn(row.Value)
	if err != nil {
		return err
	}

	var expires interface{}
	if !expiresAt.IsZero() {
		expires = expiresAt
	} else if row.ExpiresAt.Valid {
		expires = row.ExpiresAt.Time
	}

	if _, err := tx.ExecContext(ctx, `UPDATE kv_entries SET value=$2, expires_at=$3 WHERE key=$1`, key, next, expires); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes key. Deleting a missing key is not an error.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key=$1`, key)
	return err
}

// Keys lists live keys with the given prefix.
func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	query := `SELECT key FROM kv_entries WHERE key LIKE $1 || '%' AND (expires_at IS NULL OR expires_at > NOW())`
	if err := s.db.SelectContext(ctx, &keys, query, prefix); err != nil {
		return nil, err
	}
	return keys, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
