package api

import (
	"encoding/csv"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dialsense/dialsense/internal/call"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/dialsense/dialsense/internal/dialer"
	"github.com/dialsense/dialsense/internal/quota"
	"go.uber.org/zap"
)

var exportBatch = 500

type initiateCallRequest struct {
	TargetNumber string `json:"targetNumber"`
	AMDStrategy  string `json:"amdStrategy"`
	UserID       string `json:"userId"`
	Demo         bool   `json:"demo"`
}

// callLogEntry is one row of the call history.
type callLogEntry struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
	Strategy    string `json:"strategy"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	Duration    int    `json:"duration"`
	Timestamp   string `json:"timestamp"`
}

func newCallLogEntry(c *call.Call) callLogEntry {
	return callLogEntry{
		ID:          c.ID.String(),
		PhoneNumber: c.TargetNumber,
		Strategy:    string(c.Strategy),
		Status:      string(c.Status),
		Result:      c.ResultLabel(),
		Duration:    c.DurationSeconds,
		Timestamp:   c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleInitiateCall places a call, or a simulated one when demo is set.
func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	var req initiateCallRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := s.calls.Initiate(r.Context(), dialer.InitiateParams{
		UserID:       req.UserID,
		TargetNumber: req.TargetNumber,
		Strategy:     req.AMDStrategy,
		Demo:         req.Demo,
	})
	if err != nil {
		s.writeInitiateError(w, c, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) writeInitiateError(w http.ResponseWriter, c *call.Call, err error) {
	status := statusForError(err)

	var limitErr *quota.LimitExceededError
	if errors.As(err, &limitErr) {
		w.Header().Set("Retry-After", retryAfterSeconds(limitErr.RetryAfter))
	}

	switch status {
	case http.StatusBadGateway:
		s.logger.Warn("call placement failed", zap.Error(err))
		writeJSON(w, status, map[string]any{
			"error": "failed to place call",
			"call":  c,
		})
	case http.StatusInternalServerError:
		s.logger.Error("initiate call", zap.Error(err))
		writeError(w, status, "failed to initiate call")
	default:
		writeError(w, status, err.Error())
	}
}

// handleGetCallStatus returns a single call.
func (s *Server) handleGetCallStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseCallID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call ID")
		return
	}

	c, err := s.calls.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, dialer.ErrCallNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		s.logger.Error("get call", zap.String("call_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// handleHangupCall ends a call. Finished calls are returned unchanged.
func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	id, err := parseCallID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid call ID")
		return
	}

	c, err := s.calls.Hangup(r.Context(), id)
	if err != nil {
		if errors.Is(err, dialer.ErrCallNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return
		}
		s.logger.Error("hang up call", zap.String("call_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to hang up call")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// handleListCalls returns the call history, newest first.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	params, err := parseCallFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	calls, total, err := s.calls.List(r.Context(), params)
	if err != nil {
		s.logger.Error("list calls", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}

	entries := make([]callLogEntry, 0, len(calls))
	for i := range calls {
		entries = append(entries, newCallLogEntry(&calls[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"calls":  entries,
		"total":  total,
		"limit":  params.Limit,
		"offset": params.Offset,
	})
}

var csvHeader = []string{"Id", "Phone Number", "Strategy", "Status", "Result", "Duration", "Timestamp"}

// handleExportCalls streams every call matching the filters as CSV. The
// pagination parameters are ignored.
func (s *Server) handleExportCalls(w http.ResponseWriter, r *http.Request) {
	params, err := parseCallFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Limit, params.Offset = exportBatch, 0

	// Fetch the first page before writing headers so errors still get a
	// JSON response.
	calls, err := s.exportPage(r, params)
	if err != nil {
		s.logger.Error("export calls", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export calls")
		return
	}

	filename := "call-logs-" + time.Now().UTC().Format(time.DateOnly) + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	defer func() {
		cw.Flush()
		if err := cw.Error(); err != nil {
			s.logger.Warn("export calls: write csv", zap.Error(err))
		}
	}()
	if err := cw.Write(csvHeader); err != nil {
		return
	}
	for {
		for i := range calls {
			e := newCallLogEntry(&calls[i])
			if err := cw.Write([]string{e.ID, e.PhoneNumber, e.Strategy, e.Status, e.Result, strconv.Itoa(e.Duration), e.Timestamp}); err != nil {
				return
			}
		}
		if len(calls) < params.Limit {
			return
		}
		params.Before = database.CursorAt(&calls[len(calls)-1])
		calls, err = s.exportPage(r, params)
		if err != nil {
			s.logger.Error("export calls", zap.Stringer("after", params.Before.ID), zap.Error(err))
			return
		}
	}
}

// exportPage returns the batch after params.Before, newest first.
func (s *Server) exportPage(r *http.Request, params database.ListCallsParams) ([]call.Call, error) {
	calls, _, err := s.calls.List(r.Context(), params)
	return calls, err
}

// retryAfterSeconds renders d as a Retry-After value, rounded up to at least
// one second.
func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
}
