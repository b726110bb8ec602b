// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Schema is created on open; WAL mode for concurrent readers.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("archive store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_archives (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			reason TEXT NOT NULL,
			archived_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_archives_identity ON session_archives(identity);

		CREATE TABLE IF NOT EXISTS archived_turns (
			archive_id TEXT NOT NULL REFERENCES session_archives(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (archive_id, seq)
		);

		CREATE TABLE IF NOT EXISTS archived_memories (
			archive_id TEXT NOT NULL REFERENCES session_archives(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			fact TEXT NOT NULL,
			importance REAL NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (archive_id, seq)
		);

		CREATE TABLE IF NOT EXISTS exchanges (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			kind TEXT NOT NULL,
			prompt TEXT NOT NULL,
			reply TEXT NOT NULL,
			model_used TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_exchanges_identity ON exchanges(identity, created_at);

		CREATE TABLE IF NOT EXISTS model_usage (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			adapter TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// ArchiveSession writes the archive header, transcript, and memory snapshot
// in one transaction.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, arc *SessionArchive) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_archives (id, session_id, identity, created_at, last_activity, reason, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		arc.ID,
		arc.SessionID,
		arc.Identity,
		arc.CreatedAt.UTC().Format(time.RFC3339),
		arc.LastActivity.UTC().Format(time.RFC3339),
		string(arc.Reason),
		arc.ArchivedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting archive: %w", err)
	}

	for i, turn := range arc.Turns {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO archived_turns (archive_id, seq, role, content, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			arc.ID, i, turn.Role, turn.Content, turn.Timestamp.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting archived turn %d: %w", i, err)
		}
	}

	for i, mem := range arc.Memories {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO archived_memories (archive_id, seq, fact, importance, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			arc.ID, i, mem.Fact, mem.Importance, mem.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting archived memory %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive: %w", err)
	}

	s.logger.Debug("session archived",
		"archive_id", arc.ID,
		"identity", arc.Identity,
		"reason", arc.Reason,
		"turns", len(arc.Turns),
		"memories", len(arc.Memories),
	)
	return nil
}

// SaveExchange appends one round trip to the exchange ledger.
func (s *SQLiteStore) SaveExchange(ctx context.Context, ex *Exchange) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, session_id, identity, kind, prompt, reply, model_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.SessionID, ex.Identity, ex.Kind, ex.Prompt, ex.Reply, ex.ModelUsed,
		ex.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}
	return nil
}

// SaveUsage stores a token usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *Usage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_usage (id, session_id, adapter, model, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.SessionID, usage.Adapter, usage.Model,
		usage.InputTokens, usage.OutputTokens,
		usage.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}
	return nil
}

// RecentExchanges returns the latest exchanges for an identity, newest first.
func (s *SQLiteStore) RecentExchanges(ctx context.Context, identity string, limit int) ([]*Exchange, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, identity, kind, prompt, reply, model_used, created_at
		FROM exchanges
		WHERE identity = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []*Exchange
	for rows.Next() {
		var ex Exchange
		var createdAt string
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.Identity, &ex.Kind,
			&ex.Prompt, &ex.Reply, &ex.ModelUsed, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		ex.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing exchange timestamp: %w", err)
		}
		out = append(out, &ex)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
