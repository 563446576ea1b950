package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/dialsense/dialsense/internal/amd"
	"go.uber.org/zap"
)

type compareRequest struct {
	// Strategies defaults to every known strategy.
	Strategies []string `json:"strategies"`
	// Audio is an optional base64 sample.
	Audio []byte `json:"audio"`
}

// handleCompareStrategies runs several strategies over one sample and
// returns the reconciled report.
func (s *Server) handleCompareStrategies(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	names := req.Strategies
	if len(names) == 0 {
		for _, id := range amd.AllStrategies {
			names = append(names, string(id))
		}
	}

	report, err := s.calls.RunComparison(r.Context(), amd.Sample(req.Audio), names)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("strategy comparison", zap.Error(err))
			writeError(w, status, "failed to compare strategies")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}
