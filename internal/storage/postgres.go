package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/deusflow/newspick/internal/ledger"
	"github.com/deusflow/newspick/internal/logger"
)

// ledgerLockKey is the pg_advisory_lock key shared by every newspick process.
const ledgerLockKey int64 = 0x6e657773 // "news"

const schema = `
	CREATE TABLE IF NOT EXISTS sent_news (
		id SERIAL PRIMARY KEY,
		link TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		sent_at TIMESTAMPTZ NOT NULL,
		embedding JSONB,
		model_version VARCHAR(100) NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sent_news_link ON sent_news(link);
	CREATE INDEX IF NOT EXISTS idx_sent_news_sent_at ON sent_news(sent_at);
`

// PostgresStore keeps the delivery ledger in a PostgreSQL table.
type PostgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresStore connects, pings and makes sure the schema exists.
func NewPostgresStore(ctx context.Context, connectionString string, log *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStoreFromDB(db, log)
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store.log.Info("PostgreSQL ledger store connected")
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing handle without touching the schema.
func NewPostgresStoreFromDB(db *sql.DB, log *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: logger.OrNop(log)}
}

// InitSchema creates the necessary tables if they don't exist
func (ps *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := ps.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load returns all stored entries, oldest first.
func (ps *PostgresStore) Load(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT title, link, summary, sent_at, embedding, model_version
		FROM sent_news
		ORDER BY sent_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e   ledger.Entry
			raw []byte
		)
		if err := rows.Scan(&e.Title, &e.Link, &e.Summary, &e.SentTime, &raw, &e.ModelVersion); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Embedding); err != nil {
				// the summary is still there, so the vector can be recomputed
				ps.log.Warn("dropping undecodable stored embedding", "link", e.Link, "error", err)
				e.Embedding = nil
				e.ModelVersion = ""
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger rows: %w", err)
	}
	return entries, nil
}

// Save replaces the table contents with entries in a single transaction.
func (ps *PostgresStore) Save(ctx context.Context, entries []ledger.Entry) error {
	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM sent_news`); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}

	for _, e := range entries {
		var embedding any
		if len(e.Embedding) > 0 {
			b, err := json.Marshal(e.Embedding)
			if err != nil {
				return fmt.Errorf("failed to encode embedding for %s: %w", e.Link, err)
			}
			embedding = string(b)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO sent_news (title, link, summary, sent_at, embedding, model_version)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.Title, e.Link, e.Summary, e.SentTime, embedding, e.ModelVersion)
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry %s: %w", e.Link, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

// Lock takes a session-level advisory lock on a dedicated connection.
func (ps *PostgresStore) Lock(ctx context.Context) (func() error, error) {
	conn, err := ps.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for ledger lock: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, ledgerLockKey); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to lock ledger: %w", err)
	}

	return func() error {
		defer conn.Close()
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, ledgerLockKey); err != nil {
			return fmt.Errorf("failed to unlock ledger: %w", err)
		}
		return nil
	}, nil
}

// Close closes the database connection
func (ps *PostgresStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}
