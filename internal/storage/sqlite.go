package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no bearer credential has been stored yet.
var ErrNoToken = errors.New("no stored credential")

// Journal is the crash journal for the active call: enough state for a
// restarted process to probe the backend and resume the session.
type Journal struct {
	SessionID    string    `json:"session_id"`
	ScenarioID   string    `json:"scenario_id"`
	PendingInput string    `json:"pending_input"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists the bearer credential and the call journal in a local
// SQLite database. It is the only component that writes either.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "pitchloop.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS credential (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			token_type TEXT NOT NULL DEFAULT 'Bearer',
			expiry TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create credential table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS call_journal (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			session_id TEXT NOT NULL,
			scenario_id TEXT NOT NULL DEFAULT '',
			pending_input TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create call_journal table: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveToken stores the bearer credential, replacing any previous one.
func (s *Store) SaveToken(tok *oauth2.Token) error {
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		return errors.New("access token is required")
	}

	expiry := ""
	if !tok.Expiry.IsZero() {
		expiry = tok.Expiry.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.Exec(
		`INSERT INTO credential(id, access_token, refresh_token, token_type, expiry)
		 VALUES(1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expiry = excluded.expiry`,
		tok.AccessToken,
		tok.RefreshToken,
		tok.TokenType,
		expiry,
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Token returns the stored bearer credential. It satisfies
// oauth2.TokenSource so the transport can read it per request.
func (s *Store) Token() (*oauth2.Token, error) {
	row := s.db.QueryRow(`SELECT access_token, refresh_token, token_type, expiry FROM credential WHERE id = 1`)

	var tok oauth2.Token
	var expiry string
	if err := row.Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("query token: %w", err)
	}

	if expiry != "" {
		parsed, err := time.Parse(time.RFC3339Nano, expiry)
		if err != nil {
			return nil, fmt.Errorf("parse token expiry: %w", err)
		}
		tok.Expiry = parsed
	}

	return &tok, nil
}

// ClearToken removes the stored credential, forcing re-authentication.
func (s *Store) ClearToken() error {
	if _, err := s.db.Exec(`DELETE FROM credential WHERE id = 1`); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// SaveJournal records the active session so a restarted process can resume.
func (s *Store) SaveJournal(j Journal) error {
	if strings.TrimSpace(j.SessionID) == "" {
		return errors.New("journal session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO call_journal(id, session_id, scenario_id, pending_input, updated_at)
		 VALUES(1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			scenario_id = excluded.scenario_id,
			pending_input = excluded.pending_input,
			updated_at = excluded.updated_at`,
		j.SessionID,
		j.ScenarioID,
		j.PendingInput,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save journal: %w", err)
	}
	return nil
}

// LoadJournal returns the journal for the last active call, or false when
// no call was active.
func (s *Store) LoadJournal() (Journal, bool, error) {
	row := s.db.QueryRow(`SELECT session_id, scenario_id, pending_input, updated_at FROM call_journal WHERE id = 1`)

	var j Journal
	var updatedAt string
	if err := row.Scan(&j.SessionID, &j.ScenarioID, &j.PendingInput, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Journal{}, false, nil
		}
		return Journal{}, false, fmt.Errorf("query journal: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Journal{}, false, fmt.Errorf("parse journal updated_at: %w", err)
	}
	j.UpdatedAt = parsed

	return j, true, nil
}

// ClearJournal removes the journal after a call ends cleanly.
func (s *Store) ClearJournal() error {
	if _, err := s.db.Exec(`DELETE FROM call_journal WHERE id = 1`); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}
