package telephony

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
)

// StatusCallback is a call progress notification from the provider.
type StatusCallback struct {
	CallSID    string
	CallStatus string
	AnsweredBy string
	// Duration is the talk time in seconds, when reported.
	Duration *int
}

// ParseStatusCallback reads a status callback form.
func ParseStatusCallback(form url.Values) StatusCallback {
	cb := StatusCallback{
		CallSID:    form.Get("CallSid"),
		CallStatus: strings.ToLower(form.Get("CallStatus")),
		AnsweredBy: strings.ToLower(form.Get("AnsweredBy")),
	}
	if cb.AnsweredBy == "" {
		cb.AnsweredBy = strings.ToLower(form.Get("AnsweringMachineDetectionStatus"))
	}
	d := form.Get("CallDuration")
	if d == "" {
		d = form.Get("Duration")
	}
	if n, err := strconv.Atoi(d); err == nil && n >= 0 {
		cb.Duration = &n
	}
	return cb
}

// EventKindForStatus maps a provider call status onto a lifecycle event.
// Statuses that carry no transition report false.
func EventKindForStatus(status string) (call.EventKind, bool) {
	switch strings.ToLower(status) {
	case "ringing":
		return call.EventRinging, true
	case "in-progress", "answered":
		return call.EventAnswered, true
	case "completed":
		return call.EventCompleted, true
	case "failed", "canceled":
		return call.EventFailed, true
	case "busy":
		return call.EventBusy, true
	case "no-answer":
		return call.EventNoAnswer, true
	}
	return "", false
}

// OutcomeForAnsweredBy converts the provider's own detection label into an
// outcome. An empty label yields nil.
func OutcomeForAnsweredBy(answeredBy string) *amd.Outcome {
	if answeredBy == "" {
		return nil
	}
	out := &amd.Outcome{Strategy: string(amd.ProviderNative)}
	switch strings.ToLower(answeredBy) {
	case "human":
		out.Result, out.Confidence = amd.Human, 0.9
	case "machine_start":
		out.Result, out.Confidence = amd.Machine, 0.85
	case "machine_end_beep":
		out.Result, out.Confidence = amd.Machine, 0.95
	case "machine_end_silence":
		out.Result, out.Confidence = amd.Machine, 0.8
	case "machine_end_other":
		out.Result, out.Confidence = amd.Machine, 0.75
	default:
		out.Result, out.Confidence = amd.Undecided, 0.5
	}
	return out
}

// Event converts the callback into a lifecycle event.
func (cb StatusCallback) Event() (call.Event, bool) {
	kind, ok := EventKindForStatus(cb.CallStatus)
	if !ok {
		return call.Event{}, false
	}
	ev := call.Event{
		ExternalID:      cb.CallSID,
		Kind:            kind,
		DurationSeconds: cb.Duration,
	}
	if kind == call.EventAnswered || kind == call.EventCompleted {
		ev.Outcome = OutcomeForAnsweredBy(cb.AnsweredBy)
	}
	if kind == call.EventFailed {
		ev.Reason = "provider reported " + cb.CallStatus
	}
	return ev, true
}
