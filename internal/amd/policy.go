package amd

import "time"

// MaxFailureConfidence caps the confidence of an absorbed failure.
const MaxFailureConfidence = 0.3

// Default failure confidences.
const (
	DefaultProviderFailureConfidence = 0.3
	DefaultSIPFallbackConfidence     = 0.3
	DefaultMLFailureConfidence       = 0.2
	DefaultLLMFailureConfidence      = 0.25
)

// Policy holds the confidence reported when a strategy absorbs a failure.
// Every field is used as is, so zero is a valid setting.
type Policy struct {
	ProviderFailureConfidence float64 `yaml:"provider_failure_confidence"`
	SIPFallbackConfidence     float64 `yaml:"sip_fallback_confidence"`
	MLFailureConfidence       float64 `yaml:"ml_failure_confidence"`
	LLMFailureConfidence      float64 `yaml:"llm_failure_confidence"`
}

// DefaultPolicy returns the stock failure confidences.
func DefaultPolicy() Policy {
	return Policy{
		ProviderFailureConfidence: DefaultProviderFailureConfidence,
		SIPFallbackConfidence:     DefaultSIPFallbackConfidence,
		MLFailureConfidence:       DefaultMLFailureConfidence,
		LLMFailureConfidence:      DefaultLLMFailureConfidence,
	}
}

// DefaultLatencies returns the simulated processing time of each strategy.
func DefaultLatencies() map[StrategyID]time.Duration {
	return map[StrategyID]time.Duration{
		ProviderNative: 1500 * time.Millisecond,
		SIPEnhanced:    2000 * time.Millisecond,
		MLModel:        2500 * time.Millisecond,
		LLMBased:       1800 * time.Millisecond,
	}
}
