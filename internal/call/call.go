// Package call models one outbound dialing attempt and its lifecycle.
package call

import (
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a call.
type Status string

// Call statuses.
const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusInitiated, StatusRinging, StatusAnswered, StatusAnalyzing,
	StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s accepts no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	}
	return false
}

// Call is one outbound dialing attempt.
type Call struct {
	ID              uuid.UUID           `json:"id"`
	ExternalID      *string             `json:"externalId,omitempty"`
	UserID          string              `json:"userId"`
	TargetNumber    string              `json:"targetNumber"`
	Strategy        amd.StrategyID      `json:"amdStrategy"`
	Status          Status              `json:"status"`
	Result          *amd.Classification `json:"detectionResult,omitempty"`
	Confidence      *float64            `json:"confidence,omitempty"`
	DurationSeconds int                 `json:"duration"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// New returns a call in the initiated state.
func New(userID, targetNumber string, strategy amd.StrategyID, now time.Time) *Call {
	return &Call{
		ID:           uuid.New(),
		UserID:       userID,
		TargetNumber: targetNumber,
		Strategy:     strategy,
		Status:       StatusInitiated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ResultLabel returns the detection result, or "unknown" when there is none.
func (c *Call) ResultLabel() string {
	if c.Result == nil {
		return "unknown"
	}
	return string(*c.Result)
}

// Clone returns a deep copy of c.
func (c *Call) Clone() *Call {
	cp := *c
	if c.ExternalID != nil {
		v := *c.ExternalID
		cp.ExternalID = &v
	}
	if c.Result != nil {
		v := *c.Result
		cp.Result = &v
	}
	if c.Confidence != nil {
		v := *c.Confidence
		cp.Confidence = &v
	}
	return &cp
}
