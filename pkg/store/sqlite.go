package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/srnnkls/lalia/pkg/messages"
)

// SQLiteBackend implements Backend using SQLite. The dbPath can be a file
// path or ":memory:" for an in-memory database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the database and creates the schema if needed.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	backend := &SQLiteBackend{db: db}
	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		name TEXT,
		content TEXT,
		function_call TEXT,
		tags TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (session_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying database handle.
func (s *SQLiteBackend) DB() *sql.DB {
	return s.db
}

// Append persists messages at the end of the session's sequence within a
// single transaction.
func (s *SQLiteBackend) Append(ctx context.Context, sessionID string, msgs ...messages.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM session_messages WHERE session_id = ?",
		sessionID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("query next seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_messages (id, session_id, seq, role, name, content, function_call, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}

		var functionCall sql.NullString
		if m.FunctionCall != nil {
			raw, err := json.Marshal(m.FunctionCall)
			if err != nil {
				return fmt.Errorf("marshal function call: %w", err)
			}
			functionCall = sql.NullString{String: string(raw), Valid: true}
		}

		var tags sql.NullString
		if len(m.Tags) > 0 {
			raw, err := json.Marshal(m.Tags)
			if err != nil {
				return fmt.Errorf("marshal tags: %w", err)
			}
			tags = sql.NullString{String: string(raw), Valid: true}
		}

		var content sql.NullString
		if m.Content != nil {
			content = sql.NullString{String: *m.Content, Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			m.ID, sessionID, next+i, string(m.Role), m.Name,
			content, functionCall, tags, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Read returns all messages for the session in append order.
func (s *SQLiteBackend) Read(ctx context.Context, sessionID string) ([]messages.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, name, content, function_call, tags, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []messages.Message
	for rows.Next() {
		var (
			m            messages.Message
			role         string
			name         sql.NullString
			content      sql.NullString
			functionCall sql.NullString
			tags         sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &name, &content, &functionCall, &tags, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = messages.Role(role)
		m.Name = name.String
		if content.Valid {
			value := content.String
			m.Content = &value
		}
		if functionCall.Valid {
			var call messages.FunctionCall
			if err := json.Unmarshal([]byte(functionCall.String), &call); err != nil {
				return nil, fmt.Errorf("unmarshal function call: %w", err)
			}
			m.FunctionCall = &call
		}
		if tags.Valid {
			if err := json.Unmarshal([]byte(tags.String), &m.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		out = append(out, m)
	}

	return out, rows.Err()
}

// Close closes the database handle.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
