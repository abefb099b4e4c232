package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Level is the severity stored with a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

const (
	// TimestampLayout is how entries are timestamped in the table.
	TimestampLayout = "2006-01-02 15:04:05"

	DefaultLogLimit = 100
)

// LogEntry is one row of the log feed.
type LogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

// Logs is the append-only log feed shown on the dashboard.
type Logs struct {
	db *sql.DB
}

func (l *Logs) Append(ctx context.Context, level Level, message string, at time.Time) (LogEntry, error) {
	entry := LogEntry{
		Timestamp: at.Format(TimestampLayout),
		Level:     level,
		Message:   message,
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO logs (timestamp, level, message) VALUES (?, ?, ?)`,
		entry.Timestamp, string(entry.Level), entry.Message)
	if err != nil {
		return LogEntry{}, fmt.Errorf("failed to append log: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return LogEntry{}, fmt.Errorf("failed to append log: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first. A non-positive limit
// means DefaultLogLimit.
func (l *Logs) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, timestamp, level, message FROM logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	defer rows.Close()

	entries := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Logs) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM logs`); err != nil {
		return fmt.Errorf("failed to clear logs: %w", err)
	}
	return nil
}
