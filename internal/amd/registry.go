package amd

import "strings"

// aliases maps alternative strategy names onto the canonical ids.
var aliases = map[string]StrategyID{
	"provider-native": ProviderNative,
	"twilio-native":   ProviderNative,
	"twilio_native":   ProviderNative,
	"sip-enhanced":    SIPEnhanced,
	"jambonz-sip":     SIPEnhanced,
	"jambonz":         SIPEnhanced,
	"ml-model":        MLModel,
	"huggingface-ml":  MLModel,
	"hugging_face":    MLModel,
	"llm-based":       LLMBased,
	"gemini-flash":    LLMBased,
	"gemini_flash":    LLMBased,
}

// ParseStrategy resolves a strategy name or alias, ignoring case and
// surrounding space.
func ParseStrategy(name string) (StrategyID, bool) {
	id, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// Registry holds the detectors available to a service.
type Registry struct {
	detectors map[StrategyID]Detector
	fallback  StrategyID
}

// NewRegistry builds the four standard detectors over env.
func NewRegistry(env Env) *Registry {
	env = env.withDefaults()
	return NewRegistryWith(
		ProviderNativeDetector(env),
		SIPEnhancedDetector(env),
		MLModelDetector(env),
		LLMBasedDetector(env),
	)
}

// NewRegistryWith builds a registry from explicit detectors. Later detectors
// with the same name replace earlier ones.
func NewRegistryWith(detectors ...Detector) *Registry {
	r := &Registry{
		detectors: make(map[StrategyID]Detector, len(detectors)),
		fallback:  ProviderNative,
	}
	for _, d := range detectors {
		r.detectors[d.Name] = d
	}
	return r
}

// Register adds or replaces a detector.
func (r *Registry) Register(d Detector) {
	r.detectors[d.Name] = d
}

// Lookup returns the detector registered under name, without falling back.
func (r *Registry) Lookup(name string) (Detector, bool) {
	id, ok := ParseStrategy(name)
	if !ok {
		return Detector{}, false
	}
	d, ok := r.detectors[id]
	return d, ok
}

// Resolve returns the detector for name. Unknown names resolve to the
// provider-native detector; ok is false only when that is not registered
// either.
func (r *Registry) Resolve(name string) (Detector, bool) {
	if d, ok := r.Lookup(name); ok {
		return d, true
	}
	d, ok := r.detectors[r.fallback]
	return d, ok
}

// Strategies lists the registered strategies in display order.
func (r *Registry) Strategies() []StrategyID {
	out := make([]StrategyID, 0, len(r.detectors))
	for _, id := range AllStrategies {
		if _, ok := r.detectors[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
