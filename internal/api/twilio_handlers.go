package api

import (
	"errors"
	"net/http"

	"github.com/dialsense/dialsense/internal/dialer"
	"github.com/dialsense/dialsense/internal/telephony"
	"go.uber.org/zap"
)

// handleTwilioWebhook applies a provider status callback to its call.
func (s *Server) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	if s.verifier != nil {
		fullURL := s.baseURL + r.URL.RequestURI()
		if err := s.verifier.Verify(fullURL, r.PostForm, r.Header.Get(telephony.SignatureHeader)); err != nil {
			s.logger.Warn("webhook signature rejected", zap.String("url", fullURL), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	cb := telephony.ParseStatusCallback(r.PostForm)
	if cb.CallSID == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return
	}

	ev, ok := cb.Event()
	if !ok {
		s.logger.Debug("webhook status without transition",
			zap.String("call_sid", cb.CallSID),
			zap.String("call_status", cb.CallStatus),
		)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	ev.CallID = r.URL.Query().Get("callId")

	c, err := s.calls.OnExternalEvent(r.Context(), ev)
	if err != nil {
		switch {
		case errors.Is(err, dialer.ErrCallNotFound):
			s.logger.Warn("webhook for unknown call", zap.String("call_sid", cb.CallSID))
			writeError(w, http.StatusNotFound, "call not found")
		case errors.Is(err, dialer.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("apply webhook", zap.String("call_sid", cb.CallSID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to process webhook")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"callId":  c.ID,
		"status":  c.Status,
	})
}

// handleTwiML returns the greeting played to the callee.
func (s *Server) handleTwiML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(telephony.GreetingTwiML())
}
