package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// parseCallID parses the call ID from the path parameter.
func parseCallID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("callID"))
}

// parsePagination reads limit and offset, clamping limit to maxPageSize.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	offset = 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxPageSize {
			limit = parsed
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

// parseCallFilters reads the call log filters from the query string.
func parseCallFilters(r *http.Request) (database.ListCallsParams, error) {
	q := r.URL.Query()
	var p database.ListCallsParams

	if v := strings.TrimSpace(q.Get("userId")); v != "" {
		p.UserID = &v
	}
	if v := q.Get("status"); v != "" {
		st := call.Status(strings.ToLower(v))
		if !st.IsValid() {
			return p, fmt.Errorf("invalid status %q", v)
		}
		p.Status = &st
	}
	if v := q.Get("strategy"); v != "" {
		id, ok := amd.ParseStrategy(v)
		if !ok {
			return p, fmt.Errorf("invalid strategy %q", v)
		}
		p.Strategy = &id
	}
	if v := q.Get("result"); v != "" {
		res := strings.ToLower(v)
		if res != database.ResultUnknown && !amd.Classification(res).IsValid() {
			return p, fmt.Errorf("invalid result %q", v)
		}
		p.Result = &res
	}
	if v := strings.TrimSpace(q.Get("q")); v != "" {
		p.Query = &v
	}
	if v := q.Get("from"); v != "" {
		t, err := parseTime(v, false)
		if err != nil {
			return p, fmt.Errorf("invalid from: %w", err)
		}
		p.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := parseTime(v, true)
		if err != nil {
			return p, fmt.Errorf("invalid to: %w", err)
		}
		p.To = &t
	}
	if p.From != nil && p.To != nil && p.To.Before(*p.From) {
		return p, fmt.Errorf("to is before from")
	}

	p.Limit, p.Offset = parsePagination(r)
	return p, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates. The upper bound is
// exclusive, so a plain date used as one moves to the start of the next day.
func parseTime(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 time or YYYY-MM-DD, got %q", s)
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}
