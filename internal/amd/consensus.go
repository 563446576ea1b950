package amd

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoOutcomes is returned by Aggregate for an empty input.
var ErrNoOutcomes = errors.New("amd: no outcomes to aggregate")

// Breakdown is one strategy's line in a Report.
type Breakdown struct {
	Strategy   string         `json:"strategy"`
	Result     Classification `json:"result"`
	Confidence float64        `json:"confidence"`
	LatencyMS  int64          `json:"processingTimeMs"`
}

// Report summarises several outcomes for the same sample.
type Report struct {
	TotalStrategies int            `json:"totalStrategies"`
	MeanConfidence  float64        `json:"averageConfidence"`
	MeanLatencyMS   float64        `json:"averageProcessingTimeMs"`
	Majority        Classification `json:"consensusResult"`
	Breakdown       []Breakdown    `json:"strategyBreakdown"`
	Recommendations []string       `json:"recommendations"`
}

// Aggregate reconciles outcomes into a Report. Breakdown keeps input order.
func Aggregate(outcomes []Outcome) (*Report, error) {
	if len(outcomes) == 0 {
		return nil, ErrNoOutcomes
	}

	var sumConf float64
	var sumLatency int64
	counts := make(map[Classification]int, 3)
	breakdown := make([]Breakdown, len(outcomes))
	for i, o := range outcomes {
		sumConf += o.Confidence
		sumLatency += o.LatencyMS
		counts[o.Result]++
		breakdown[i] = Breakdown{
			Strategy:   o.Strategy,
			Result:     o.Result,
			Confidence: round2(o.Confidence),
			LatencyMS:  o.LatencyMS,
		}
	}

	n := float64(len(outcomes))
	return &Report{
		TotalStrategies: len(outcomes),
		MeanConfidence:  sumConf / n,
		MeanLatencyMS:   float64(sumLatency) / n,
		Majority:        majority(counts),
		Breakdown:       breakdown,
		Recommendations: recommend(outcomes, counts),
	}, nil
}

// majority picks the most frequent classification; ties go to human, then
// machine, then undecided.
func majority(counts map[Classification]int) Classification {
	best := Human
	for _, c := range []Classification{Machine, Undecided} {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

func recommend(outcomes []Outcome, counts map[Classification]int) []string {
	highest, fastest := outcomes[0], outcomes[0]
	for _, o := range outcomes[1:] {
		if o.Confidence > highest.Confidence {
			highest = o
		}
		if o.LatencyMS < fastest.LatencyMS {
			fastest = o
		}
	}

	recs := []string{
		fmt.Sprintf("Highest confidence: %s (%d%%)", highest.Strategy, int(math.Round(highest.Confidence*100))),
		fmt.Sprintf("Fastest processing: %s (%dms)", fastest.Strategy, fastest.LatencyMS),
	}
	switch human, machine := counts[Human], counts[Machine]; {
	case human > machine:
		recs = append(recs, "Majority detected human - recommend connecting call")
	case machine > human:
		recs = append(recs, "Majority detected machine - recommend hanging up")
	default:
		recs = append(recs, "Mixed results - recommend using highest confidence strategy")
	}
	return recs
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
