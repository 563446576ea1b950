package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an update targets a call that does not exist.
var ErrNotFound = errors.New("database: call not found")

// ErrStaleUpdate is returned when a call changed state since it was read.
var ErrStaleUpdate = errors.New("database: call changed concurrently")

// ResultUnknown filters calls that have no detection result.
const ResultUnknown = "unknown"

// defaultListLimit matches the API's default page size.
const defaultListLimit = 50

// ListCallsParams contains parameters for listing calls.
type ListCallsParams struct {
	UserID   *string
	Status   *call.Status
	Strategy *amd.StrategyID
	// Result is a classification or ResultUnknown.
	Result *string
	// Query matches a substring of the target number.
	Query *string
	From  *time.Time
	To    *time.Time
	// Before keeps only calls that sort after the cursor, newest first.
	Before *Cursor

	Limit  int
	Offset int
}

// Cursor is a position in the newest-first call ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAt returns the position of c.
func CursorAt(c *call.Call) *Cursor {
	return &Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
}

// admits reports whether c comes after the cursor.
func (k Cursor) admits(c *call.Call) bool {
	if !c.CreatedAt.Equal(k.CreatedAt) {
		return c.CreatedAt.Before(k.CreatedAt)
	}
	return c.ID.String() < k.ID.String()
}

func (p ListCallsParams) limit() int {
	if p.Limit <= 0 {
		return defaultListLimit
	}
	return p.Limit
}

// whereClause renders the filters as SQL. placeholder returns the bind marker
// for the n-th argument (1-based).
func (p ListCallsParams) whereClause(placeholder func(n int) string, timeArg func(time.Time) any) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}

	if p.UserID != nil {
		add("user_id = %s", *p.UserID)
	}
	if p.Status != nil {
		add("status = %s", string(*p.Status))
	}
	if p.Strategy != nil {
		add("strategy = %s", string(*p.Strategy))
	}
	if p.Result != nil {
		if *p.Result == ResultUnknown {
			conds = append(conds, "result IS NULL")
		} else {
			add("result = %s", *p.Result)
		}
	}
	if p.Query != nil && *p.Query != "" {
		add("target_number LIKE %s", "%"+escapeLike(*p.Query)+"%")
		conds[len(conds)-1] += ` ESCAPE '\'`
	}
	if p.From != nil {
		add("created_at >= %s", timeArg(*p.From))
	}
	if p.To != nil {
		add("created_at < %s", timeArg(*p.To))
	}
	if p.Before != nil {
		at := timeArg(p.Before.CreatedAt)
		args = append(args, at, at, p.Before.ID)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id < %s))",
			placeholder(n-2), placeholder(n-1), placeholder(n)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Matches reports whether c passes the filters. Pagination is ignored.
func (p ListCallsParams) Matches(c *call.Call) bool {
	if p.UserID != nil && c.UserID != *p.UserID {
		return false
	}
	if p.Status != nil && c.Status != *p.Status {
		return false
	}
	if p.Strategy != nil && c.Strategy != *p.Strategy {
		return false
	}
	if p.Result != nil && c.ResultLabel() != *p.Result {
		return false
	}
	if p.Query != nil && !strings.Contains(c.TargetNumber, *p.Query) {
		return false
	}
	if p.From != nil && c.CreatedAt.Before(*p.From) {
		return false
	}
	if p.To != nil && !c.CreatedAt.Before(*p.To) {
		return false
	}
	if p.Before != nil && !p.Before.admits(c) {
		return false
	}
	return true
}

// terminalStatuses is the SQL list of terminal statuses.
func terminalStatuses() string {
	var quoted []string
	for _, s := range call.AllStatuses {
		if s.IsTerminal() {
			quoted = append(quoted, "'"+string(s)+"'")
		}
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

func resultColumn(c *call.Call) *string {
	if c.Result == nil {
		return nil
	}
	s := string(*c.Result)
	return &s
}

func resultFromColumn(s *string) *amd.Classification {
	if s == nil {
		return nil
	}
	c := amd.Classification(*s)
	return &c
}
