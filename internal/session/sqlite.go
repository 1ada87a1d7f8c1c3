package session

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the session in a single-row SQLite table, the durable
// equivalent of browser-local storage in the web portal.
type SQLiteStore struct {
	db *sql.DB
}

const sessionSchema = `
	CREATE TABLE IF NOT EXISTS session (
		slot         INTEGER PRIMARY KEY CHECK (slot = 1),
		user_id      TEXT NOT NULL,
		display_name TEXT NOT NULL,
		role         TEXT NOT NULL,
		credential   TEXT NOT NULL
	)
`

// NewSQLiteStore opens (and if needed initializes) the session database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns the stored session or ErrNoSession.
func (s *SQLiteStore) Load() (*Session, error) {
	row := s.db.QueryRow(`SELECT user_id, display_name, role, credential FROM session WHERE slot = 1`)

	var sess Session
	if err := row.Scan(&sess.UserID, &sess.DisplayName, &sess.Role, &sess.Credential); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

// Save upserts the single session row.
func (s *SQLiteStore) Save(sess *Session) error {
	query := `
		INSERT INTO session (slot, user_id, display_name, role, credential)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			user_id = excluded.user_id,
			display_name = excluded.display_name,
			role = excluded.role,
			credential = excluded.credential
	`
	if _, err := s.db.Exec(query, sess.UserID, sess.DisplayName, sess.Role, sess.Credential); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the stored session. Clearing an empty store is not an error.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE slot = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
