package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a StateStore backed by a single-file SQLite database. It
// is a drop-in alternative to FileStore for deployments that want one
// queryable artifact instead of a directory of loose files.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at
// <root>/.planbot/state.db and runs its migrations.
func NewSQLiteStore(root string) (*SQLiteStore, error) {
	dbPath := filepath.Join(root, ".planbot", "state.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("queue: create sqlite state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("queue: open sqlite database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS run_state (
	root TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	current_ticket_id TEXT,
	current_phase TEXT NOT NULL,
	session_id TEXT,
	pause_requested INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	last_updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_questions (
	id TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	ticket_id TEXT NOT NULL,
	text TEXT NOT NULL,
	asked_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ticket_plans (
	root TEXT NOT NULL,
	ticket_id TEXT NOT NULL,
	plan TEXT NOT NULL,
	PRIMARY KEY (root, ticket_id)
);

CREATE TABLE IF NOT EXISTS ticket_sessions (
	root TEXT NOT NULL,
	ticket_id TEXT NOT NULL,
	session_token TEXT NOT NULL,
	PRIMARY KEY (root, ticket_id)
);

CREATE TABLE IF NOT EXISTS ticket_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	root TEXT NOT NULL,
	ticket_id TEXT NOT NULL,
	line TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_logs_ticket ON ticket_logs(root, ticket_id);
CREATE INDEX IF NOT EXISTS idx_pending_questions_root ON pending_questions(root);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("queue: sqlite migration failed: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Init is a no-op for SQLiteStore: the schema is created at Open/New time.
func (s *SQLiteStore) Init(root string) error { return nil }

// Exists reports whether a run_state row has ever been saved for root.
func (s *SQLiteStore) Exists(root string) bool {
	var count int
	_ = s.db.QueryRow(`SELECT COUNT(1) FROM run_state WHERE root = ?`, root).Scan(&count)
	return count > 0
}

// Clear deletes every row associated with root across all tables.
func (s *SQLiteStore) Clear(root string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("queue: begin clear tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM run_state WHERE root = ?`,
		`DELETE FROM pending_questions WHERE root = ?`,
		`DELETE FROM ticket_plans WHERE root = ?`,
		`DELETE FROM ticket_sessions WHERE root = ?`,
		`DELETE FROM ticket_logs WHERE root = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, root); err != nil {
			return fmt.Errorf("queue: clear: %w", err)
		}
	}
	return tx.Commit()
}

// Load reads State for root, returning a fresh State if none is stored yet.
func (s *SQLiteStore) Load(root string) (State, error) {
	row := s.db.QueryRow(`
		SELECT version, current_ticket_id, current_phase, session_id,
		       pause_requested, started_at, last_updated_at
		FROM run_state WHERE root = ?`, root)

	var (
		version        int
		currentTicket  sql.NullString
		phase          string
		sessionID      sql.NullString
		pauseRequested int
		startedAt      time.Time
		lastUpdatedAt  time.Time
	)
	switch err := row.Scan(&version, &currentTicket, &phase, &sessionID, &pauseRequested, &startedAt, &lastUpdatedAt); err {
	case sql.ErrNoRows:
		return NewState(), nil
	case nil:
		// fall through
	default:
		return State{}, fmt.Errorf("queue: sqlite load state: %w", err)
	}

	st := State{
		Version:        version,
		CurrentPhase:   Phase(phase),
		PauseRequested: pauseRequested != 0,
		StartedAt:      startedAt,
		LastUpdatedAt:  lastUpdatedAt,
	}
	if currentTicket.Valid {
		st.CurrentTicketID = &currentTicket.String
	}
	if sessionID.Valid {
		st.SessionID = &sessionID.String
	}

	questions, err := s.GetPendingQuestions(root)
	if err != nil {
		return State{}, err
	}
	st.PendingQuestions = questions
	return st, nil
}

// Save upserts State for root.
func (s *SQLiteStore) Save(root string, st State) error {
	st.LastUpdatedAt = time.Now()

	var currentTicket, sessionID any
	if st.CurrentTicketID != nil {
		currentTicket = *st.CurrentTicketID
	}
	if st.SessionID != nil {
		sessionID = *st.SessionID
	}

	_, err := s.db.Exec(`
		INSERT INTO run_state (root, version, current_ticket_id, current_phase, session_id, pause_requested, started_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(root) DO UPDATE SET
			version=excluded.version,
			current_ticket_id=excluded.current_ticket_id,
			current_phase=excluded.current_phase,
			session_id=excluded.session_id,
			pause_requested=excluded.pause_requested,
			last_updated_at=excluded.last_updated_at
	`, root, st.Version, currentTicket, string(st.CurrentPhase), sessionID, boolToInt(st.PauseRequested), st.StartedAt, st.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("queue: sqlite save state: %w", err)
	}
	return nil
}

// Update reloads State, applies fn, and saves the result.
func (s *SQLiteStore) Update(root string, fn func(State) State) (State, error) {
	current, err := s.Load(root)
	if err != nil {
		return State{}, err
	}
	next := fn(current)
	if err := s.Save(root, next); err != nil {
		return State{}, err
	}
	return next, nil
}

// SavePlan upserts the saved plan text for a ticket.
func (s *SQLiteStore) SavePlan(root, ticketID, plan string) error {
	_, err := s.db.Exec(`
		INSERT INTO ticket_plans (root, ticket_id, plan) VALUES (?, ?, ?)
		ON CONFLICT(root, ticket_id) DO UPDATE SET plan=excluded.plan
	`, root, ticketID, plan)
	if err != nil {
		return fmt.Errorf("queue: sqlite save plan: %w", err)
	}
	return nil
}

// LoadPlan returns the saved plan text for a ticket, if any.
func (s *SQLiteStore) LoadPlan(root, ticketID string) (string, bool, error) {
	var plan string
	err := s.db.QueryRow(`SELECT plan FROM ticket_plans WHERE root = ? AND ticket_id = ?`, root, ticketID).Scan(&plan)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue: sqlite load plan: %w", err)
	}
	return plan, true, nil
}

// SaveSession upserts the session token for a ticket.
func (s *SQLiteStore) SaveSession(root, ticketID, sessionToken string) error {
	_, err := s.db.Exec(`
		INSERT INTO ticket_sessions (root, ticket_id, session_token) VALUES (?, ?, ?)
		ON CONFLICT(root, ticket_id) DO UPDATE SET session_token=excluded.session_token
	`, root, ticketID, sessionToken)
	if err != nil {
		return fmt.Errorf("queue: sqlite save session: %w", err)
	}
	return nil
}

// LoadSession returns the saved session token for a ticket, if any.
func (s *SQLiteStore) LoadSession(root, ticketID string) (string, bool, error) {
	var token string
	err := s.db.QueryRow(`SELECT session_token FROM ticket_sessions WHERE root = ? AND ticket_id = ?`, root, ticketID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue: sqlite load session: %w", err)
	}
	return token, true, nil
}

// AppendLog appends a timestamped line to a ticket's execution log.
func (s *SQLiteStore) AppendLog(root, ticketID, line string) error {
	_, err := s.db.Exec(`INSERT INTO ticket_logs (root, ticket_id, line, created_at) VALUES (?, ?, ?, ?)`,
		root, ticketID, line, time.Now())
	if err != nil {
		return fmt.Errorf("queue: sqlite append log: %w", err)
	}
	return nil
}

// AddPendingQuestion inserts a pending question row.
func (s *SQLiteStore) AddPendingQuestion(root string, q PendingQuestion) error {
	_, err := s.db.Exec(`INSERT INTO pending_questions (id, root, ticket_id, text, asked_at) VALUES (?, ?, ?, ?, ?)`,
		q.ID, root, q.TicketID, q.Text, q.AskedAt)
	if err != nil {
		return fmt.Errorf("queue: sqlite add pending question: %w", err)
	}
	return nil
}

// RemovePendingQuestion deletes a pending question row by id.
func (s *SQLiteStore) RemovePendingQuestion(root, id string) error {
	_, err := s.db.Exec(`DELETE FROM pending_questions WHERE root = ? AND id = ?`, root, id)
	if err != nil {
		return fmt.Errorf("queue: sqlite remove pending question: %w", err)
	}
	return nil
}

// GetPendingQuestions returns all pending questions for root.
func (s *SQLiteStore) GetPendingQuestions(root string) ([]PendingQuestion, error) {
	rows, err := s.db.Query(`SELECT id, ticket_id, text, asked_at FROM pending_questions WHERE root = ? ORDER BY asked_at ASC`, root)
	if err != nil {
		return nil, fmt.Errorf("queue: sqlite list pending questions: %w", err)
	}
	defer rows.Close()

	var questions []PendingQuestion
	for rows.Next() {
		var q PendingQuestion
		if err := rows.Scan(&q.ID, &q.TicketID, &q.Text, &q.AskedAt); err != nil {
			return nil, fmt.Errorf("queue: sqlite scan pending question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
