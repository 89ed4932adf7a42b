// Package storage keeps chat history in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/skillswap/relay/internal/domain"
)

// SQLiteStore implements core.MessageStore.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*SQLiteStore, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info().Str("module", "storage").Str("path", path).Msg("message store ready")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			from_user  TEXT NOT NULL,
			to_user    TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(from_user, to_user, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) RecordMessage(ctx context.Context, msg domain.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, from_user, to_user, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, string(msg.From), string(msg.To), msg.Content, msg.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns the most recent messages exchanged between a and b in
// either direction, oldest first. A limit <= 0 returns the whole
// conversation.
func (s *SQLiteStore) History(ctx context.Context, a, b domain.UserID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		// sqlite reads a negative LIMIT as no limit
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_user, to_user, content, created_at FROM (
			SELECT id, from_user, to_user, content, created_at, rowid AS seq FROM messages
			WHERE (from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		) ORDER BY created_at ASC, seq ASC`,
		string(a), string(b), string(b), string(a), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m        domain.Message
			from, to string
			nanos    int64
		)
		if err := rows.Scan(&m.ID, &from, &to, &m.Content, &nanos); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.From = domain.UserID(from)
		m.To = domain.UserID(to)
		m.Timestamp = time.Unix(0, nanos).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
