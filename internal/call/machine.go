package call

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
)

// EventKind identifies what happened to a call.
type EventKind string

// Event kinds.
const (
	EventRinging   EventKind = "ringing"
	EventAnswered  EventKind = "answered"
	EventAnalyzing EventKind = "analyzing"
	EventDetection EventKind = "detection"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventBusy      EventKind = "busy"
	EventNoAnswer  EventKind = "no_answer"
	EventHangup    EventKind = "hangup"
)

// Event is something that happened to a call. Exactly one of CallID or
// ExternalID identifies the call.
type Event struct {
	CallID     string
	ExternalID string
	Kind       EventKind
	// Outcome is the detector result for EventDetection. Provider events may
	// carry one as well when the provider ran its own detection.
	Outcome *amd.Outcome
	// DurationSeconds is the talk time reported by the provider, if any.
	DurationSeconds *int
	// Reason explains failures.
	Reason string
}

// Transition describes the effect of applying an event.
type Transition struct {
	From    Status
	To      Status
	Changed bool
}

// ErrInvalidTransition is returned for events that do not fit the current
// state. The call is left untouched.
var ErrInvalidTransition = errors.New("call: invalid transition")

// Machine applies events to calls.
type Machine struct {
	Override Override
	// HumanDuration picks the talk time recorded for human-answered calls when
	// the provider did not report one.
	HumanDuration func() int
	Now           func() time.Time
}

// NewMachine returns a machine with the default override and duration policy.
func NewMachine() *Machine {
	return &Machine{
		Override:      DefaultOverride(),
		HumanDuration: RandomHumanDuration,
		Now:           time.Now,
	}
}

// RandomHumanDuration returns a talk time in [30,149] seconds.
func RandomHumanDuration() int {
	return 30 + rand.IntN(120)
}

// Apply mutates c according to ev. Events on a terminal call are no-ops.
func (m *Machine) Apply(c *Call, ev Event) (Transition, error) {
	tr := Transition{From: c.Status, To: c.Status}
	if c.Status.IsTerminal() {
		return tr, nil
	}

	switch ev.Kind {
	case EventRinging:
		if c.Status != StatusInitiated {
			return tr, m.invalid(c, ev)
		}
		m.move(c, &tr, StatusRinging)

	case EventAnswered:
		if c.Status != StatusInitiated && c.Status != StatusRinging {
			return tr, m.invalid(c, ev)
		}
		m.move(c, &tr, StatusAnswered)

	case EventAnalyzing:
		if c.Status != StatusAnswered {
			return tr, m.invalid(c, ev)
		}
		m.move(c, &tr, StatusAnalyzing)

	case EventDetection:
		if c.Status != StatusAnalyzing || ev.Outcome == nil {
			return tr, m.invalid(c, ev)
		}
		m.complete(c, &tr, ev)

	case EventCompleted:
		if ev.Outcome != nil && c.Status == StatusAnalyzing {
			m.complete(c, &tr, ev)
			break
		}
		m.move(c, &tr, StatusCompleted)

	case EventHangup:
		m.move(c, &tr, StatusCompleted)

	case EventFailed:
		m.move(c, &tr, StatusFailed)

	case EventBusy, EventNoAnswer:
		if c.Status != StatusInitiated && c.Status != StatusRinging {
			return tr, m.invalid(c, ev)
		}
		if ev.Kind == EventBusy {
			m.move(c, &tr, StatusBusy)
		} else {
			m.move(c, &tr, StatusNoAnswer)
		}

	default:
		return tr, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev.Kind)
	}
	return tr, nil
}

func (m *Machine) invalid(c *Call, ev Event) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.Kind, c.Status)
}

func (m *Machine) move(c *Call, tr *Transition, to Status) {
	c.Status = to
	c.UpdatedAt = m.now()
	tr.To = to
	tr.Changed = true
}

// complete records the final detection result and closes the call.
func (m *Machine) complete(c *Call, tr *Transition, ev Event) {
	out := m.Override.Apply(c.TargetNumber, *ev.Outcome)
	res := out.Result
	conf := min(max(out.Confidence, 0), 1)
	c.Result = &res
	c.Confidence = &conf

	c.DurationSeconds = 0
	if res == amd.Human {
		switch {
		case ev.DurationSeconds != nil && *ev.DurationSeconds > 0:
			c.DurationSeconds = *ev.DurationSeconds
		case m.HumanDuration != nil:
			c.DurationSeconds = m.HumanDuration()
		}
	}
	m.move(c, tr, StatusCompleted)
}

func (m *Machine) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}
