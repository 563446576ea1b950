package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// callColumns is the standard column list for call queries.
const callColumns = `id, external_id, user_id, target_number, strategy, status, result, confidence, duration_seconds, created_at, updated_at`

// scanCall scans a row into a Call.
func scanCall(row pgx.Row) (*call.Call, error) {
	var c call.Call
	var strategy, status string
	var result *string
	err := row.Scan(
		&c.ID, &c.ExternalID, &c.UserID, &c.TargetNumber, &strategy, &status,
		&result, &c.Confidence, &c.DurationSeconds, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Strategy = amd.StrategyID(strategy)
	c.Status = call.Status(status)
	c.Result = resultFromColumn(result)
	return &c, nil
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func pgTime(t time.Time) any { return t }

// CreateCall stores a new call.
func (db *DB) CreateCall(ctx context.Context, c *call.Call) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ExternalID, c.UserID, c.TargetNumber, string(c.Strategy), string(c.Status),
		resultColumn(c), c.Confidence, c.DurationSeconds, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCall retrieves a call by ID.
func (db *DB) GetCall(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`,
		id,
	)
	return scanCall(row)
}

// GetCallByExternalID retrieves a call by its provider call ID.
func (db *DB) GetCallByExternalID(ctx context.Context, externalID string) (*call.Call, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM calls WHERE external_id = $1`,
		externalID,
	)
	return scanCall(row)
}

// UpdateCall writes c back, provided the stored status is still from.
func (db *DB) UpdateCall(ctx context.Context, c *call.Call, from call.Status) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE calls
		 SET external_id = $3, status = $4, result = $5, confidence = $6, duration_seconds = $7, updated_at = $8
		 WHERE id = $1 AND status = $2`,
		c.ID, string(from), c.ExternalID, string(c.Status), resultColumn(c), c.Confidence,
		c.DurationSeconds, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		existing, err := db.GetCall(ctx, c.ID)
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

// ListCalls returns calls matching params, newest first.
func (db *DB) ListCalls(ctx context.Context, params ListCallsParams) ([]call.Call, error) {
	where, args := params.whereClause(pgPlaceholder, pgTime)
	n := len(args)
	args = append(args, params.limit(), params.Offset)

	rows, err := db.pool.Query(ctx,
		`SELECT `+callColumns+` FROM calls`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, n+1, n+2),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []call.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// CountCalls returns the number of calls matching params.
func (db *DB) CountCalls(ctx context.Context, params ListCallsParams) (int, error) {
	where, args := params.whereClause(pgPlaceholder, pgTime)
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM calls`+where, args...).Scan(&count)
	return count, err
}

// ListStaleCalls returns non-terminal calls last updated before olderThan.
func (db *DB) ListStaleCalls(ctx context.Context, olderThan time.Time, limit int) ([]call.Call, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+callColumns+` FROM calls
		 WHERE status NOT IN `+terminalStatuses()+` AND updated_at < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []call.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}
