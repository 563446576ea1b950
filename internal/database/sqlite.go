package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqliteTimeFormat is fixed width so text comparison orders correctly.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite stores calls in a local SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := MigrateSQLite(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return &SQLite{db: db, path: path}, nil
}

// MigrateSQLite runs SQLite migrations against the file at path.
func MigrateSQLite(path string) error {
	return runMigrations("migrations/sqlite", "sqlite://"+path, func(m *migrate.Migrate) error { return m.Up() })
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func sqlitePlaceholder(int) string { return "?" }

func sqliteTime(t time.Time) any { return t.UTC().Format(sqliteTimeFormat) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCall(row rowScanner) (*call.Call, error) {
	var c call.Call
	var id, strategy, status, created, updated string
	var result *string
	err := row.Scan(
		&id, &c.ExternalID, &c.UserID, &c.TargetNumber, &strategy, &status,
		&result, &c.Confidence, &c.DurationSeconds, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	if c.CreatedAt, err = time.Parse(sqliteTimeFormat, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(sqliteTimeFormat, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	c.Strategy = amd.StrategyID(strategy)
	c.Status = call.Status(status)
	c.Result = resultFromColumn(result)
	return &c, nil
}

// CreateCall stores a new call.
func (s *SQLite) CreateCall(ctx context.Context, c *call.Call) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO calls (`+callColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), c.ExternalID, c.UserID, c.TargetNumber, string(c.Strategy), string(c.Status),
			resultColumn(c), c.Confidence, c.DurationSeconds, sqliteTime(c.CreatedAt), sqliteTime(c.UpdatedAt),
		)
		return err
	})
}

// GetCall retrieves a call by ID.
func (s *SQLite) GetCall(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id.String())
	return scanSQLiteCall(row)
}

// GetCallByExternalID retrieves a call by its provider call ID.
func (s *SQLite) GetCallByExternalID(ctx context.Context, externalID string) (*call.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE external_id = ?`, externalID)
	return scanSQLiteCall(row)
}

// UpdateCall writes c back, provided the stored status is still from.
func (s *SQLite) UpdateCall(ctx context.Context, c *call.Call, from call.Status) error {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE calls
			 SET external_id = ?, status = ?, result = ?, confidence = ?, duration_seconds = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			c.ExternalID, string(c.Status), resultColumn(c), c.Confidence, c.DurationSeconds,
			sqliteTime(c.UpdatedAt), c.ID.String(), string(from),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, err := s.GetCall(ctx, c.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		return ErrStaleUpdate
	}
	return nil
}

func (s *SQLite) queryCalls(ctx context.Context, query string, args ...any) ([]call.Call, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []call.Call
	for rows.Next() {
		c, err := scanSQLiteCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// ListCalls returns calls matching params, newest first.
func (s *SQLite) ListCalls(ctx context.Context, params ListCallsParams) ([]call.Call, error) {
	where, args := params.whereClause(sqlitePlaceholder, sqliteTime)
	args = append(args, params.limit(), params.Offset)
	return s.queryCalls(ctx,
		`SELECT `+callColumns+` FROM calls`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...,
	)
}

// CountCalls returns the number of calls matching params.
func (s *SQLite) CountCalls(ctx context.Context, params ListCallsParams) (int, error) {
	where, args := params.whereClause(sqlitePlaceholder, sqliteTime)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls`+where, args...).Scan(&count)
	return count, err
}

// ListStaleCalls returns non-terminal calls last updated before olderThan.
func (s *SQLite) ListStaleCalls(ctx context.Context, olderThan time.Time, limit int) ([]call.Call, error) {
	return s.queryCalls(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE status NOT IN `+terminalStatuses()+` AND updated_at < ?
		 ORDER BY updated_at
		 LIMIT ?`,
		sqliteTime(olderThan), limit,
	)
}
