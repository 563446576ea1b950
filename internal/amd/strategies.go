package amd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Random is the source of randomness for the simulated strategies.
type Random interface {
	Float64() float64
	IntN(n int) int
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }
func (globalRandom) IntN(n int) int   { return rand.IntN(n) }

// WordCounter estimates how many words the callee spoke in the greeting.
type WordCounter interface {
	CountWords(ctx context.Context, sample Sample) (int, error)
}

// Prediction is the label and score returned by an inference backend.
type Prediction struct {
	Label Classification
	Score float64
}

// InferenceClient classifies a sample with a trained model.
type InferenceClient interface {
	Predict(ctx context.Context, sample Sample) (Prediction, error)
}

// Verdict is a classification with an explanation.
type Verdict struct {
	Result     Classification `json:"result"`
	Confidence float64        `json:"confidence"`
	Rationale  string         `json:"reasoning"`
}

// Judge classifies a sample with a language model.
type Judge interface {
	Judge(ctx context.Context, sample Sample) (Verdict, error)
}

// Env carries everything the strategies depend on. Nil fields fall back to
// the simulated defaults.
type Env struct {
	Policy    *Policy
	Latencies map[StrategyID]time.Duration
	Random    Random
	Clock     func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
	Words     WordCounter
	Inference InferenceClient
	Judge     Judge
	Logger    *zap.Logger
}

func (e Env) withDefaults() Env {
	if e.Policy == nil {
		p := DefaultPolicy()
		e.Policy = &p
	}
	if e.Latencies == nil {
		e.Latencies = DefaultLatencies()
	}
	if e.Random == nil {
		e.Random = globalRandom{}
	}
	if e.Clock == nil {
		e.Clock = time.Now
	}
	if e.Sleep == nil {
		e.Sleep = sleepContext
	}
	if e.Words == nil {
		e.Words = RandomWordCounter{Random: e.Random}
	}
	if e.Inference == nil {
		e.Inference = SimulatedInference{Random: e.Random}
	}
	if e.Judge == nil {
		e.Judge = SimulatedJudge{Random: e.Random}
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e Env) elapsedMS(start time.Time) int64 {
	ms := e.Clock().Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (e Env) outcome(id StrategyID, res Classification, conf float64, start time.Time) Outcome {
	return Outcome{
		Strategy:   string(id),
		Result:     res,
		Confidence: clampConfidence(conf),
		LatencyMS:  e.elapsedMS(start),
	}
}

// failure turns an internal problem into an undecided outcome.
func (e Env) failure(id StrategyID, conf float64, start time.Time, err error) Outcome {
	label := string(id) + "-error"
	if id == SIPEnhanced {
		label = string(id) + "-fallback"
	}
	e.Logger.Warn("detector failed, reporting undecided",
		zap.String("strategy", string(id)),
		zap.Float64("confidence", conf),
		zap.Error(err),
	)
	return Outcome{
		Strategy:   label,
		Result:     Undecided,
		Confidence: clampConfidence(conf),
		LatencyMS:  e.elapsedMS(start),
		Fallback:   true,
	}
}

// ProviderNativeDetector mirrors the telephony provider's built-in detection.
func ProviderNativeDetector(env Env) Detector {
	env = env.withDefaults()
	return NewDetector(ProviderNative, func(ctx context.Context, _ Sample) (Outcome, error) {
		start := env.Clock()
		if err := env.Sleep(ctx, env.Latencies[ProviderNative]); err != nil {
			return env.failure(ProviderNative, env.Policy.ProviderFailureConfidence, start, err), nil
		}
		r := env.Random.Float64()
		switch {
		case r > 0.7:
			return env.outcome(ProviderNative, Machine, 0.85+env.Random.Float64()*0.1, start), nil
		case r > 0.3:
			return env.outcome(ProviderNative, Human, 0.8+env.Random.Float64()*0.15, start), nil
		default:
			return env.outcome(ProviderNative, Undecided, 0.5+env.Random.Float64()*0.2, start), nil
		}
	})
}

// SIPEnhancedDetector classifies on greeting length: long greetings are
// recordings, short ones are people.
func SIPEnhancedDetector(env Env) Detector {
	env = env.withDefaults()
	return NewDetector(SIPEnhanced, func(ctx context.Context, sample Sample) (Outcome, error) {
		start := env.Clock()
		if err := env.Sleep(ctx, env.Latencies[SIPEnhanced]); err != nil {
			return env.failure(SIPEnhanced, env.Policy.SIPFallbackConfidence, start, err), nil
		}
		words, err := env.Words.CountWords(ctx, sample)
		if err != nil {
			return env.failure(SIPEnhanced, env.Policy.SIPFallbackConfidence, start, err), nil
		}
		switch {
		case words > 8:
			return env.outcome(SIPEnhanced, Machine, 0.9+env.Random.Float64()*0.05, start), nil
		case words <= 3:
			return env.outcome(SIPEnhanced, Human, 0.85+env.Random.Float64()*0.1, start), nil
		default:
			return env.outcome(SIPEnhanced, Undecided, 0.6+env.Random.Float64()*0.2, start), nil
		}
	})
}

// MLModelDetector delegates to an inference backend.
func MLModelDetector(env Env) Detector {
	env = env.withDefaults()
	return NewDetector(MLModel, func(ctx context.Context, sample Sample) (Outcome, error) {
		start := env.Clock()
		if err := env.Sleep(ctx, env.Latencies[MLModel]); err != nil {
			return env.failure(MLModel, env.Policy.MLFailureConfidence, start, err), nil
		}
		p, err := env.Inference.Predict(ctx, sample)
		if err == nil && !p.Label.IsValid() {
			err = fmt.Errorf("unknown label %q", p.Label)
		}
		if err != nil {
			return env.failure(MLModel, env.Policy.MLFailureConfidence, start, err), nil
		}
		return env.outcome(MLModel, p.Label, p.Score, start), nil
	})
}

// LLMBasedDetector asks a language model and keeps its rationale.
func LLMBasedDetector(env Env) Detector {
	env = env.withDefaults()
	return NewDetector(LLMBased, func(ctx context.Context, sample Sample) (Outcome, error) {
		start := env.Clock()
		if err := env.Sleep(ctx, env.Latencies[LLMBased]); err != nil {
			return env.failure(LLMBased, env.Policy.LLMFailureConfidence, start, err), nil
		}
		v, err := env.Judge.Judge(ctx, sample)
		if err == nil && !v.Result.IsValid() {
			err = fmt.Errorf("unknown verdict %q", v.Result)
		}
		if err != nil {
			return env.failure(LLMBased, env.Policy.LLMFailureConfidence, start, err), nil
		}
		out := env.outcome(LLMBased, v.Result, v.Confidence, start)
		out.Rationale = v.Rationale
		return out, nil
	})
}

// RandomWordCounter reports a random word count in [1,15].
type RandomWordCounter struct {
	Random Random
}

// CountWords implements WordCounter.
func (c RandomWordCounter) CountWords(ctx context.Context, _ Sample) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.Random.IntN(15) + 1, nil
}

var mlPredictions = []Prediction{
	{Label: Human, Score: 0.92},
	{Label: Machine, Score: 0.88},
	{Label: Human, Score: 0.85},
	{Label: Machine, Score: 0.94},
	{Label: Undecided, Score: 0.45},
}

// SimulatedInference picks one of a fixed set of model predictions.
type SimulatedInference struct {
	Random Random
}

// Predict implements InferenceClient.
func (s SimulatedInference) Predict(ctx context.Context, _ Sample) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	return mlPredictions[s.Random.IntN(len(mlPredictions))], nil
}

var llmScenarios = []Verdict{
	{Result: Human, Confidence: 0.89, Rationale: "Natural speech patterns detected"},
	{Result: Machine, Confidence: 0.91, Rationale: "Robotic intonation and scripted content"},
	{Result: Human, Confidence: 0.87, Rationale: "Conversational tone with hesitations"},
	{Result: Machine, Confidence: 0.93, Rationale: "Consistent pace and formal language"},
	{Result: Undecided, Confidence: 0.55, Rationale: "Ambiguous audio quality"},
}

// SimulatedJudge picks one of a fixed set of language-model verdicts.
type SimulatedJudge struct {
	Random Random
}

// Judge implements Judge.
func (s SimulatedJudge) Judge(ctx context.Context, _ Sample) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	return llmScenarios[s.Random.IntN(len(llmScenarios))], nil
}
