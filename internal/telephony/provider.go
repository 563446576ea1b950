// Package telephony talks to the phone network: placing and hanging up calls
// and decoding the provider's status callbacks.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrMissingCredentials is returned when a provider is not configured.
var ErrMissingCredentials = errors.New("telephony: missing provider credentials")

// PlaceRequest describes an outbound call.
type PlaceRequest struct {
	To string
	// StatusCallback receives call progress notifications.
	StatusCallback string
	// AnswerURL returns the call flow document once the call is answered.
	AnswerURL string
}

// PlaceResult is the provider's acknowledgement of a placed call.
type PlaceResult struct {
	ExternalID string
	Status     string
	To         string
	From       string
}

// Provider places and terminates calls.
type Provider interface {
	Place(ctx context.Context, req PlaceRequest) (*PlaceResult, error)
	Hangup(ctx context.Context, externalID string) error
}

// SimulatedPrefix starts every call id issued by Simulated.
const SimulatedPrefix = "SIM"

// IsSimulated reports whether externalID was issued by Simulated.
func IsSimulated(externalID string) bool {
	return strings.HasPrefix(externalID, SimulatedPrefix)
}

// Simulated is a Provider that never touches the network. Progress for
// simulated calls is driven by the caller.
type Simulated struct {
	seq atomic.Int64
}

// NewSimulated returns a simulated provider.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Place implements Provider.
func (s *Simulated) Place(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &PlaceResult{
		ExternalID: fmt.Sprintf("%s%012d", SimulatedPrefix, s.seq.Add(1)),
		Status:     "queued",
		To:         req.To,
		From:       "simulated",
	}, nil
}

// Hangup implements Provider.
func (s *Simulated) Hangup(ctx context.Context, _ string) error {
	return ctx.Err()
}
