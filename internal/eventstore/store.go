package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
	_ "modernc.org/sqlite"
)

// Event kinds recorded for a listening session.
const (
	KindStarted   = "voice.started"
	KindUtterance = "voice.utterance"
	KindError     = "voice.error"
	KindEnded     = "voice.ended"
	KindReply     = "assistant.reply"
)

// Event is one entry in a session timeline.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Privacy   string          `json:"privacy_scope,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Session summarises one listening session.
type Session struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Locale    string    `json:"locale,omitempty"`
	Privacy   string    `json:"privacy_scope,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Events    int       `json:"events"`
}

// Store persists session timelines in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config. Ephemeral retention
// yields a store that accepts writes and keeps nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voice_sessions (
    session_id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL DEFAULT '',
    locale TEXT NOT NULL DEFAULT '',
    privacy_scope TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS voice_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload BLOB,
    privacy_scope TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES voice_sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_voice_events_session ON voice_events(session_id, id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether writes are persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sess Session) error {
	if !s.Enabled() {
		return nil
	}
	if sess.ID == "" {
		return errors.New("session id required")
	}
	if sess.Privacy == "" {
		sess.Privacy = s.cfg.PrivacyScope
	}
	created := sess.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_sessions(session_id, device_id, locale, privacy_scope, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET device_id=excluded.device_id, locale=excluded.locale`,
		sess.ID, sess.DeviceID, sess.Locale, sess.Privacy, created.UTC().UnixNano())
	return err
}

// AppendEvent writes an event into a session timeline. The session row is
// created on demand so events never dangle.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.Enabled() {
		return nil
	}
	if evt.SessionID == "" {
		return errors.New("session id required")
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	if evt.Privacy == "" {
		evt.Privacy = s.cfg.PrivacyScope
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_sessions(session_id, privacy_scope, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		evt.SessionID, evt.Privacy, evt.CreatedAt.UTC().UnixNano()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_events(session_id, kind, payload, privacy_scope, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.SessionID, evt.Kind, []byte(evt.Payload), evt.Privacy, evt.CreatedAt.UTC().UnixNano())
	return err
}

// ListSessionEvents retrieves up to limit events for a session in insertion order.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, payload, privacy_scope, created_at
		 FROM voice_events WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			payload []byte
			created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &payload, &e.Privacy, &created); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.device_id, s.locale, s.privacy_scope, s.created_at,
		        (SELECT COUNT(*) FROM voice_events e WHERE e.session_id = s.session_id)
		 FROM voice_sessions s ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess    Session
			created int64
		)
		if err := rows.Scan(&sess.ID, &sess.DeviceID, &sess.Locale, &sess.Privacy, &created, &sess.Events); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(0, created).UTC()
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	if s.cfg.RetentionMode != "persistent" && s.cfg.RetentionMode != "session" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM voice_events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM voice_sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM voice_sessions WHERE session_id IN (
			SELECT session_id FROM voice_sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions); err != nil {
			return err
		}
	}
	return tx.Commit()
}
