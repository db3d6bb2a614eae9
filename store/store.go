// Package store provides the durable SQLite record of sessions, their
// message history, and the advisory draft table used for crash recovery.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/groundedqa/docchat/core"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	title_user_set INTEGER NOT NULL DEFAULT 0,
	document_scope TEXT NOT NULL DEFAULT '[]',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	archived       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	turn_id      TEXT NOT NULL DEFAULT '',
	sources      TEXT,
	status       TEXT NOT NULL,
	cause        TEXT NOT NULL DEFAULT '',
	resume_token TEXT NOT NULL DEFAULT '',
	timestamp    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS drafts (
	session_id      TEXT PRIMARY KEY,
	pending_input   TEXT NOT NULL DEFAULT '',
	pending_turn_id TEXT NOT NULL DEFAULT '',
	pending_text    TEXT NOT NULL DEFAULT '',
	resume_token    TEXT NOT NULL DEFAULT '',
	saved_at        INTEGER NOT NULL
);
`

// Open opens (or creates) the database at path with WAL enabled.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session record.
func (s *Store) CreateSession(sess *core.Session) error {
	scope, err := json.Marshal(sess.DocumentScope)
	if err != nil {
		return fmt.Errorf("marshal document scope: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, title, title_user_set, document_scope, created_at, updated_at, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Title, boolInt(sess.TitleUserSet), string(scope),
		sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(), boolInt(sess.Archived))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads one session with its full ordered message history.
func (s *Store) GetSession(id string) (*core.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, title, title_user_set, document_scope, created_at, updated_at, archived
		FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	msgs, err := s.messagesFor(id)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return sess, nil
}

func (s *Store) messagesFor(sessionID string) ([]core.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, turn_id, sources, status, cause, resume_token, timestamp
		FROM messages WHERE session_id = ? ORDER BY rowid ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var m core.Message
		var sources sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.TurnID, &sources,
			&m.Status, &m.Cause, &m.Resume, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sources.Valid && sources.String != "" {
			m.Sources = json.RawMessage(sources.String)
		}
		m.Timestamp = time.Unix(0, ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListSessions returns session records without message history, most
// recently updated first. Archived sessions are excluded unless requested.
func (s *Store) ListSessions(includeArchived bool) ([]core.Session, error) {
	query := `
		SELECT id, title, title_user_set, document_scope, created_at, updated_at, archived
		FROM sessions`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SearchSessions returns non-archived sessions whose title or message
// content contains the query, case-insensitively.
func (s *Store) SearchSessions(query string) ([]core.Session, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.Query(`
		SELECT DISTINCT s.id, s.title, s.title_user_set, s.document_scope, s.created_at, s.updated_at, s.archived
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.archived = 0
		  AND (LOWER(s.title) LIKE ? OR LOWER(m.content) LIKE ?)
		ORDER BY s.updated_at DESC
	`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()

	var sessions []core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// MostRecent returns the most recently updated non-archived session, or
// nil if none exist.
func (s *Store) MostRecent() (*core.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, title, title_user_set, document_scope, created_at, updated_at, archived
		FROM sessions WHERE archived = 0 ORDER BY updated_at DESC LIMIT 1
	`)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// SaveTitle updates the display title and the user-set flag.
func (s *Store) SaveTitle(id, title string, userSet bool, updatedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET title = ?, title_user_set = ?, updated_at = ? WHERE id = ?
	`, title, boolInt(userSet), updatedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// SaveDocumentScope replaces the session's document scope.
func (s *Store) SaveDocumentScope(id string, scope []string, updatedAt time.Time) error {
	data, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("marshal document scope: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE sessions SET document_scope = ?, updated_at = ? WHERE id = ?
	`, string(data), updatedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update document scope: %w", err)
	}
	return nil
}

// SetArchived toggles the soft-delete flag.
func (s *Store) SetArchived(id string, archived bool, updatedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET archived = ?, updated_at = ? WHERE id = ?
	`, boolInt(archived), updatedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update archived: %w", err)
	}
	return nil
}

// DeleteSession removes a session, its messages, and any draft.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM drafts WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// UpsertMessage inserts or replaces one message row, keyed by message id,
// and bumps the session's updated_at.
func (s *Store) UpsertMessage(sessionID string, m core.Message) error {
	var sources any
	if len(m.Sources) > 0 {
		sources = string(m.Sources)
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, role, content, turn_id, sources, status, cause, resume_token, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			sources = excluded.sources,
			status = excluded.status,
			cause = excluded.cause,
			resume_token = excluded.resume_token
	`, m.ID, sessionID, string(m.Role), m.Content, m.TurnID, sources,
		string(m.Status), string(m.Cause), m.Resume, m.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	_, err = s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// MessageCount returns the number of stored messages for a session.
func (s *Store) MessageCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// DraftPut overwrites the draft row for the draft's session.
func (s *Store) DraftPut(d core.Draft) error {
	_, err := s.db.Exec(`
		INSERT INTO drafts (session_id, pending_input, pending_turn_id, pending_text, resume_token, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			pending_input = excluded.pending_input,
			pending_turn_id = excluded.pending_turn_id,
			pending_text = excluded.pending_text,
			resume_token = excluded.resume_token,
			saved_at = excluded.saved_at
	`, d.SessionID, d.PendingInput, d.PendingTurnID, d.PendingText, d.ResumeToken, d.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put draft: %w", err)
	}
	return nil
}

// DraftGet returns the draft for a session, or nil if none exists.
func (s *Store) DraftGet(sessionID string) (*core.Draft, error) {
	row := s.db.QueryRow(`
		SELECT session_id, pending_input, pending_turn_id, pending_text, resume_token, saved_at
		FROM drafts WHERE session_id = ?
	`, sessionID)
	var d core.Draft
	var savedAt int64
	if err := row.Scan(&d.SessionID, &d.PendingInput, &d.PendingTurnID, &d.PendingText, &d.ResumeToken, &savedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	d.SavedAt = time.Unix(0, savedAt)
	return &d, nil
}

// DraftClear removes the draft row for a session.
func (s *Store) DraftClear(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM drafts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*core.Session, error) {
	var sess core.Session
	var userSet, archived int
	var scope string
	var createdAt, updatedAt int64
	if err := row.Scan(&sess.ID, &sess.Title, &userSet, &scope, &createdAt, &updatedAt, &archived); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(scope), &sess.DocumentScope); err != nil {
		return nil, fmt.Errorf("decode document scope: %w", err)
	}
	sess.TitleUserSet = userSet != 0
	sess.Archived = archived != 0
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.UpdatedAt = time.Unix(0, updatedAt)
	return &sess, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
