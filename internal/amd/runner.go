package amd

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrNoStrategies is returned when RunAll has nothing it can run.
var ErrNoStrategies = errors.New("amd: no strategies to run")

// RunAll runs the named strategies concurrently over the same sample and
// returns their outcomes in the order the names were given. Unknown names run
// the provider-native detector.
func (r *Registry) RunAll(ctx context.Context, sample Sample, names []string) ([]Outcome, error) {
	if len(names) == 0 {
		return nil, ErrNoStrategies
	}

	detectors := make([]Detector, len(names))
	for i, name := range names {
		d, ok := r.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("%w: cannot resolve %q", ErrNoStrategies, name)
		}
		detectors[i] = d
	}

	results := make([]Outcome, len(detectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range detectors {
		g.Go(func() error {
			out, err := d.Analyze(gctx, sample)
			if err != nil {
				return fmt.Errorf("run %s: %w", d.Name, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
