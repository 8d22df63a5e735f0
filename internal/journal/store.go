package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"streamhost/internal/logging"
	"streamhost/internal/stream"
)

// FileName is the database file created under the state directory.
const FileName = "journal.db"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultRecordTimeout bounds a write made from the observer path.
const DefaultRecordTimeout = 2 * time.Second

// Entry is one persisted event.
type Entry struct {
	ID int64 `json:"id"`
	stream.Event
}

// Store manages event persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the journal at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends event.
func (s *Store) Record(ctx context.Context, event stream.Event) error {
	occurred := event.Time
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stream_events (
            session_id, correlation_id, event_type, attempt, delay_ms,
            exit_code, pid, error_message, occurred_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.SessionID,
		nullableString(event.CorrelationID),
		string(event.Type),
		event.Attempt,
		event.Delay.Milliseconds(),
		event.ExitCode,
		event.PID,
		nullableString(event.Error),
		occurred.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first. sessionID narrows the
// result to one session when set.
func (s *Store) Recent(ctx context.Context, limit int, sessionID string) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + entryColumns + ` FROM stream_events`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// Prune deletes events that occurred before cutoff and reports how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stream_events WHERE occurred_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Observer adapts the store to stream.Observer. Write failures are logged
// and never block the supervisor longer than DefaultRecordTimeout.
func (s *Store) Observer(logger *slog.Logger) stream.Observer {
	logger = logging.NewComponentLogger(logger, "journal")
	return stream.ObserverFunc(func(ctx context.Context, event stream.Event) {
		writeCtx, cancel := context.WithTimeout(ctx, DefaultRecordTimeout)
		defer cancel()
		if err := s.Record(writeCtx, event); err != nil {
			logging.WarnWithContext(logger, "event not journaled", "journal_write_failed",
				logging.String(logging.FieldSessionID, event.SessionID),
				logging.String(logging.FieldEventType, string(event.Type)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "event missing from streamhost history"),
			)
		}
	})
}

const entryColumns = `id, session_id, correlation_id, event_type, attempt, delay_ms,
    exit_code, pid, error_message, occurred_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry       Entry
		correlation sql.NullString
		eventType   string
		delayMS     int64
		errMessage  sql.NullString
		occurredAt  string
	)
	if err := row.Scan(
		&entry.ID,
		&entry.SessionID,
		&correlation,
		&eventType,
		&entry.Attempt,
		&delayMS,
		&entry.ExitCode,
		&entry.PID,
		&errMessage,
		&occurredAt,
	); err != nil {
		return Entry{}, fmt.Errorf("scan event: %w", err)
	}
	entry.CorrelationID = correlation.String
	entry.Type = stream.EventType(eventType)
	entry.Delay = time.Duration(delayMS) * time.Millisecond
	entry.Error = errMessage.String
	occurred, err := time.Parse(timeLayout, occurredAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse occurred_at %q: %w", occurredAt, err)
	}
	entry.Time = occurred
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
