package amd

import (
	"context"
	"sync"
	"time"
)

// seqRandom replays fixed values, then returns zero.
type seqRandom struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
}

func (s *seqRandom) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *seqRandom) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	return v % n
}

// fakeClock advances only when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func testEnv(rnd Random) (Env, *fakeClock) {
	clock := newFakeClock()
	return Env{
		Random: rnd,
		Clock:  clock.Now,
		Sleep:  clock.Sleep,
	}, clock
}

type wordsFunc func(ctx context.Context, sample Sample) (int, error)

func (f wordsFunc) CountWords(ctx context.Context, sample Sample) (int, error) {
	return f(ctx, sample)
}

type inferenceFunc func(ctx context.Context, sample Sample) (Prediction, error)

func (f inferenceFunc) Predict(ctx context.Context, sample Sample) (Prediction, error) {
	return f(ctx, sample)
}

type judgeFunc func(ctx context.Context, sample Sample) (Verdict, error)

func (f judgeFunc) Judge(ctx context.Context, sample Sample) (Verdict, error) {
	return f(ctx, sample)
}
