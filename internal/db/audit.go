package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/events"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const auditSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		remote_addr TEXT NOT NULL DEFAULT '',
		opened_at INTEGER NOT NULL,
		closed_at INTEGER,
		reason TEXT NOT NULL DEFAULT '',
		authenticated INTEGER NOT NULL DEFAULT 0,
		commands INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS auth_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		request_id INTEGER NOT NULL,
		success INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		request_id INTEGER NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id);
	CREATE INDEX IF NOT EXISTS idx_commands_created ON commands(created_at);
	CREATE INDEX IF NOT EXISTS idx_auth_created ON auth_attempts(created_at);
`

// SessionRecord is a stored session.
type SessionRecord struct {
	ID            string     `json:"id"`
	RemoteAddr    string     `json:"remote_addr"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Authenticated bool       `json:"authenticated"`
	Commands      int        `json:"commands"`
}

// CommandRecord is a stored command.
type CommandRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	RequestID  int32     `json:"request_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// AuditStats summarizes the audit trail.
type AuditStats struct {
	Sessions       int `json:"sessions"`
	OpenSessions   int `json:"open_sessions"`
	AuthSuccesses  int `json:"auth_successes"`
	AuthFailures   int `json:"auth_failures"`
	Commands       int `json:"commands"`
	FailuresLast24 int `json:"auth_failures_24h"`
}

// AuditLog records RCON activity.
type AuditLog struct {
	db *Database
}

// NewAuditLog opens the audit database at dbPath and applies the schema.
func NewAuditLog(dbPath string) (*AuditLog, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	if err := database.Migrate(auditSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}

	log.Info().Str("path", database.Path()).Msg("audit log opened")
	return &AuditLog{db: database}, nil
}

// Close closes the underlying database.
func (a *AuditLog) Close() error {
	return a.db.Close()
}

// RecordSessionOpened stores a new session.
func (a *AuditLog) RecordSessionOpened(id, remoteAddr string, at time.Time) error {
	_, err := a.db.Exec(`
		INSERT INTO sessions (id, remote_addr, opened_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET remote_addr = excluded.remote_addr, opened_at = excluded.opened_at`,
		id, remoteAddr, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", id, err)
	}
	return nil
}

// RecordSessionClosed stores the outcome of a session. The session row is
// created if the open event has not been recorded yet.
func (a *AuditLog) RecordSessionClosed(p events.SessionClosedPayload, at time.Time) error {
	opened := at.Add(-p.Duration)
	_, err := a.db.Exec(`
		INSERT INTO sessions (id, remote_addr, opened_at, closed_at, reason, authenticated, commands)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			closed_at = excluded.closed_at,
			reason = excluded.reason,
			authenticated = excluded.authenticated,
			commands = excluded.commands`,
		p.SessionID, p.RemoteAddr, opened.UnixMilli(), at.UnixMilli(), p.Reason, p.Authenticated, p.Commands)
	if err != nil {
		return fmt.Errorf("failed to close session %s: %w", p.SessionID, err)
	}
	return nil
}

// RecordAuthAttempt stores one authentication attempt.
func (a *AuditLog) RecordAuthAttempt(p events.AuthPayload, at time.Time) error {
	_, err := a.db.Exec(`
		INSERT INTO auth_attempts (session_id, remote_addr, request_id, success, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.SessionID, p.RemoteAddr, p.RequestID, p.Success, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record auth attempt: %w", err)
	}
	return nil
}

// RecordCommand stores one command.
func (a *AuditLog) RecordCommand(p events.CommandPayload, at time.Time) error {
	_, err := a.db.Exec(`
		INSERT INTO commands (session_id, remote_addr, request_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.SessionID, p.RemoteAddr, p.RequestID, p.Command, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}

// RecentCommands returns the newest commands, newest first.
func (a *AuditLog) RecentCommands(limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`
		SELECT id, session_id, remote_addr, request_id, body, created_at
		FROM commands ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	return scanCommands(rows)
}

// SessionCommands returns the commands of one session in arrival order.
func (a *AuditLog) SessionCommands(sessionID string) ([]CommandRecord, error) {
	rows, err := a.db.Query(`
		SELECT id, session_id, remote_addr, request_id, body, created_at
		FROM commands WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	return scanCommands(rows)
}

func scanCommands(rows *sql.Rows) ([]CommandRecord, error) {
	defer rows.Close()

	var result []CommandRecord
	for rows.Next() {
		var c CommandRecord
		var created int64
		if err := rows.Scan(&c.ID, &c.SessionID, &c.RemoteAddr, &c.RequestID, &c.Body, &created); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		c.CreatedAt = time.UnixMilli(created)
		result = append(result, c)
	}
	return result, rows.Err()
}

// GetSession returns one stored session.
func (a *AuditLog) GetSession(id string) (*SessionRecord, error) {
	var rec SessionRecord
	var opened int64
	var closed sql.NullInt64

	err := a.db.QueryRow(`
		SELECT id, remote_addr, opened_at, closed_at, reason, authenticated, commands
		FROM sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.RemoteAddr, &opened, &closed, &rec.Reason, &rec.Authenticated, &rec.Commands)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}

	rec.OpenedAt = time.UnixMilli(opened)
	if closed.Valid {
		t := time.UnixMilli(closed.Int64)
		rec.ClosedAt = &t
	}
	return &rec, nil
}

// Stats returns aggregate counts over the whole audit trail.
func (a *AuditLog) Stats() (*AuditStats, error) {
	var s AuditStats
	dayAgo := time.Now().Add(-24 * time.Hour).UnixMilli()

	err := a.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM sessions WHERE closed_at IS NULL),
			(SELECT COUNT(*) FROM auth_attempts WHERE success = 1),
			(SELECT COUNT(*) FROM auth_attempts WHERE success = 0),
			(SELECT COUNT(*) FROM commands),
			(SELECT COUNT(*) FROM auth_attempts WHERE success = 0 AND created_at >= ?)`, dayAgo).
		Scan(&s.Sessions, &s.OpenSessions, &s.AuthSuccesses, &s.AuthFailures, &s.Commands, &s.FailuresLast24)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit stats: %w", err)
	}
	return &s, nil
}

// Prune deletes closed sessions, auth attempts and commands older than
// the cutoff and returns the number of rows removed.
func (a *AuditLog) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	var total int64

	err := a.db.Transaction(func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM commands WHERE created_at < ?`,
			`DELETE FROM auth_attempts WHERE created_at < ?`,
			`DELETE FROM sessions WHERE closed_at IS NOT NULL AND closed_at < ?`,
		} {
			res, err := tx.Exec(q, cutoff)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}

	log.Info().Int64("rows", total).Dur("older_than", olderThan).Msg("audit log pruned")
	return total, nil
}

// Subscribe records session events from the bus.
func (a *AuditLog) Subscribe(bus *events.EventBus) {
	const name = "audit"

	bus.Subscribe(events.EventSessionOpened, name, func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionPayload)
		if !ok {
			return nil
		}
		return a.RecordSessionOpened(p.SessionID, p.RemoteAddr, e.Timestamp)
	})

	auth := func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.AuthPayload)
		if !ok {
			return nil
		}
		return a.RecordAuthAttempt(p, e.Timestamp)
	}
	bus.Subscribe(events.EventSessionAuthenticated, name, auth)
	bus.Subscribe(events.EventAuthFailed, name, auth)

	bus.Subscribe(events.EventCommandReceived, name, func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.CommandPayload)
		if !ok {
			return nil
		}
		return a.RecordCommand(p, e.Timestamp)
	})

	bus.Subscribe(events.EventSessionClosed, name, func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.SessionClosedPayload)
		if !ok {
			return nil
		}
		return a.RecordSessionClosed(p, e.Timestamp)
	})
}
