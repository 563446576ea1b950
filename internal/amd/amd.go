// Package amd classifies who picked up an outbound call: a person or an
// answering machine.
//
// Four detection strategies are available. Each is a Detector record built by
// a Registry; RunAll fans a sample out to several detectors concurrently and
// Aggregate reconciles their outcomes into a single Report.
package amd

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StrategyID names a detection strategy.
type StrategyID string

// Known strategies.
const (
	ProviderNative StrategyID = "provider-native"
	SIPEnhanced    StrategyID = "sip-enhanced"
	MLModel        StrategyID = "ml-model"
	LLMBased       StrategyID = "llm-based"
)

// AllStrategies lists every strategy in display order.
var AllStrategies = []StrategyID{ProviderNative, SIPEnhanced, MLModel, LLMBased}

// IsValid reports whether s is one of the known strategies.
func (s StrategyID) IsValid() bool {
	switch s {
	case ProviderNative, SIPEnhanced, MLModel, LLMBased:
		return true
	}
	return false
}

// Classification is the verdict of a detector.
type Classification string

// Classifications.
const (
	Human     Classification = "human"
	Machine   Classification = "machine"
	Undecided Classification = "undecided"
)

// IsValid reports whether c is a known classification.
func (c Classification) IsValid() bool {
	return c == Human || c == Machine || c == Undecided
}

// Sample is an opaque audio sample handed to detectors. It may be empty.
type Sample []byte

// Outcome is the result of one detector invocation.
type Outcome struct {
	// Strategy is the label of the strategy that produced the outcome. It
	// carries a "-fallback" or "-error" suffix when the strategy absorbed a
	// failure.
	Strategy   string         `json:"strategy"`
	Result     Classification `json:"result"`
	Confidence float64        `json:"confidence"`
	LatencyMS  int64          `json:"processingTimeMs"`
	Rationale  string         `json:"reasoning,omitempty"`
	Fallback   bool           `json:"fallback,omitempty"`
}

// Latency returns the processing time as a duration.
func (o Outcome) Latency() time.Duration {
	return time.Duration(o.LatencyMS) * time.Millisecond
}

// ErrInvalidStrategy is returned by Analyze when a detector record is malformed.
var ErrInvalidStrategy = errors.New("amd: invalid strategy")

// AnalyzeFunc is the behaviour behind a Detector.
type AnalyzeFunc func(ctx context.Context, sample Sample) (Outcome, error)

// Detector is a named detection strategy. Detectors never fail on recoverable
// problems: those surface as an undecided Outcome with the strategy's failure
// confidence. The only error is a malformed record.
type Detector struct {
	Name    StrategyID
	analyze AnalyzeFunc
}

// NewDetector builds a Detector from a name and its analysis function.
func NewDetector(name StrategyID, fn AnalyzeFunc) Detector {
	return Detector{Name: name, analyze: fn}
}

// Analyze classifies sample.
func (d Detector) Analyze(ctx context.Context, sample Sample) (Outcome, error) {
	if !d.Name.IsValid() || d.analyze == nil {
		return Outcome{}, fmt.Errorf("%w: %q", ErrInvalidStrategy, d.Name)
	}
	return d.analyze(ctx, sample)
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0 || c != c:
		return 0
	case c > 1:
		return 1
	}
	return c
}
