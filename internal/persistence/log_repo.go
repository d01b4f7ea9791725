package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skobkin/execlink/internal/connectors"
)

// LogEntry is one persisted executor output message.
type LogEntry struct {
	ID        int64
	SessionID string
	Backend   connectors.BackendKind
	Kind      connectors.LogKind
	Text      string
	At        time.Time
}

func LogEntryFromMessage(msg connectors.LogMessage) LogEntry {
	return LogEntry{
		SessionID: msg.SessionID,
		Backend:   msg.Backend,
		Kind:      msg.Kind,
		Text:      msg.Text,
		At:        msg.At,
	}
}

type LogRepo struct {
	db *sql.DB
}

func NewLogRepo(db *sql.DB) *LogRepo {
	return &LogRepo{db: db}
}

func (r *LogRepo) Insert(ctx context.Context, e LogEntry) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO output_log(session_id, backend, kind, text, at)
		VALUES(?, ?, ?, ?, ?)
	`, e.SessionID, string(e.Backend), int(e.Kind), e.Text, unixMillis(e.At))
	if err != nil {
		return 0, fmt.Errorf("insert output log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get output log id: %w", err)
	}

	return id, nil
}

// ListRecent returns up to limit newest entries in chronological order.
func (r *LogRepo) ListRecent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, backend, kind, text, at
		FROM output_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list output log: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			backend string
			kind    int
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &backend, &kind, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("scan output log entry: %w", err)
		}
		e.Backend = connectors.BackendKind(backend)
		e.Kind = connectors.LogKind(kind)
		e.At = timeFromUnixMillis(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate output log: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

func (r *LogRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM output_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count output log: %w", err)
	}

	return n, nil
}

// Trim keeps the newest keep entries and deletes the rest. keep <= 0 keeps all.
func (r *LogRepo) Trim(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM output_log
		WHERE id <= (SELECT id FROM output_log ORDER BY id DESC LIMIT 1 OFFSET ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("trim output log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim output log rows: %w", err)
	}

	return n, nil
}

// Clear deletes the entries of one session, or every entry when sessionID is
// empty. A full clear also restarts the id sequence.
func (r *LogRepo) Clear(ctx context.Context, sessionID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("database is not initialized")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear output log tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var res sql.Result
	if sessionID == "" {
		res, err = tx.ExecContext(ctx, `DELETE FROM output_log`)
	} else {
		res, err = tx.ExecContext(ctx, `DELETE FROM output_log WHERE session_id = ?`, sessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("clear output log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear output log rows: %w", err)
	}
	if sessionID == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'output_log'`); err != nil {
			return 0, fmt.Errorf("reset output log ids: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear output log tx: %w", err)
	}

	return n, nil
}

// Timestamps are stored as unix milliseconds; zero means unknown.
func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeFromUnixMillis(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
