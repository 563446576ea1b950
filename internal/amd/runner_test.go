package amd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedDetector(id StrategyID, delay time.Duration, res Classification, conf float64) Detector {
	return NewDetector(id, func(ctx context.Context, _ Sample) (Outcome, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Outcome{Strategy: string(id), Result: Undecided}, nil
		}
		return Outcome{
			Strategy:   string(id),
			Result:     res,
			Confidence: conf,
			LatencyMS:  delay.Milliseconds(),
		}, nil
	})
}

func TestRunAll_Empty(t *testing.T) {
	env, _ := testEnv(&seqRandom{})
	reg := NewRegistry(env)

	_, err := reg.RunAll(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoStrategies)

	_, err = reg.RunAll(context.Background(), nil, []string{})
	assert.ErrorIs(t, err, ErrNoStrategies)
}

func TestRunAll_PreservesInputOrder(t *testing.T) {
	reg := NewRegistryWith(
		fixedDetector(ProviderNative, 80*time.Millisecond, Machine, 0.9),
		fixedDetector(SIPEnhanced, 0, Human, 0.85),
		fixedDetector(MLModel, 40*time.Millisecond, Undecided, 0.45),
	)

	outs, err := reg.RunAll(context.Background(), nil, []string{"provider-native", "sip-enhanced", "ml-model"})

	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Equal(t, "provider-native", outs[0].Strategy)
	assert.Equal(t, "sip-enhanced", outs[1].Strategy)
	assert.Equal(t, "ml-model", outs[2].Strategy)
}

func TestRunAll_RunsConcurrently(t *testing.T) {
	delay := 100 * time.Millisecond
	reg := NewRegistryWith(
		fixedDetector(ProviderNative, delay, Human, 0.8),
		fixedDetector(SIPEnhanced, delay, Human, 0.8),
		fixedDetector(MLModel, delay, Human, 0.8),
		fixedDetector(LLMBased, delay, Human, 0.8),
	)

	start := time.Now()
	outs, err := reg.RunAll(context.Background(), nil, []string{"provider-native", "sip-enhanced", "ml-model", "llm-based"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, outs, 4)
	assert.Less(t, elapsed, 3*delay)
}

func TestRunAll_UnknownRunsProviderNative(t *testing.T) {
	env, _ := testEnv(&seqRandom{floats: []float64{0.9, 0}})
	reg := NewRegistry(env)

	outs, err := reg.RunAll(context.Background(), nil, []string{"mystery"})

	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "provider-native", outs[0].Strategy)
	assert.Equal(t, Machine, outs[0].Result)
}

func TestRunAll_DuplicatesAndLength(t *testing.T) {
	env, _ := testEnv(nil)
	reg := NewRegistry(env)
	names := []string{"ml-model", "ml-model", "twilio-native", "gemini-flash", "jambonz-sip"}

	outs, err := reg.RunAll(context.Background(), Sample("greeting"), names)

	require.NoError(t, err)
	require.Len(t, outs, len(names))
	assert.Equal(t, "ml-model", outs[0].Strategy)
	assert.Equal(t, "ml-model", outs[1].Strategy)
	assert.Equal(t, "provider-native", outs[2].Strategy)
	assert.Equal(t, "llm-based", outs[3].Strategy)
	assert.Equal(t, "sip-enhanced", outs[4].Strategy)
}

func TestRunAll_UnresolvableWithoutFallback(t *testing.T) {
	reg := NewRegistryWith(fixedDetector(MLModel, 0, Human, 0.9))

	_, err := reg.RunAll(context.Background(), nil, []string{"ml-model", "nope"})

	assert.ErrorIs(t, err, ErrNoStrategies)
}

func TestRunAll_MalformedDetector(t *testing.T) {
	reg := NewRegistryWith(Detector{Name: ProviderNative})

	_, err := reg.RunAll(context.Background(), nil, []string{"provider-native"})

	assert.ErrorIs(t, err, ErrInvalidStrategy)
}
