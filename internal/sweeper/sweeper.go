// Package sweeper periodically fails calls that never reached a terminal
// state, for example because the provider's final callback was lost.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/dialsense/dialsense/internal/call"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the sweep every minute.
const DefaultSchedule = "@every 1m"

const defaultBatch = 100

// Source lists calls that have not changed for a while.
type Source interface {
	ListStaleCalls(ctx context.Context, olderThan time.Time, limit int) ([]call.Call, error)
}

// EventSink applies lifecycle events. dialer.Service implements it.
type EventSink interface {
	OnExternalEvent(ctx context.Context, ev call.Event) (*call.Call, error)
}

// Pruner drops idle per-user state. quota.Limiter implements it.
type Pruner interface {
	Prune() int
}

// Config configures a Sweeper.
type Config struct {
	Source  Source
	Sink    EventSink
	Pruner  Pruner
	MaxWait time.Duration
	Batch   int
	Now     func() time.Time
	Logger  *zap.Logger
}

// Sweeper fails stale calls on a cron schedule.
type Sweeper struct {
	cfg  Config
	cron *cron.Cron
}

// New creates a Sweeper.
func New(cfg Config) *Sweeper {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultBatch
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Sweeper{cfg: cfg}
}

// Sweep fails every call idle for longer than MaxWait and returns how many
// calls it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.cfg.Now().Add(-s.cfg.MaxWait)
	stale, err := s.cfg.Source.ListStaleCalls(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("list stale calls: %w", err)
	}

	failed := 0
	for _, c := range stale {
		updated, err := s.cfg.Sink.OnExternalEvent(ctx, call.Event{
			CallID: c.ID.String(),
			Kind:   call.EventFailed,
			Reason: fmt.Sprintf("no progress since %s", c.UpdatedAt.UTC().Format(time.RFC3339)),
		})
		if err != nil {
			s.cfg.Logger.Warn("failed to expire call", zap.String("call_id", c.ID.String()), zap.Error(err))
			continue
		}
		if updated != nil && updated.Status == call.StatusFailed {
			failed++
		}
	}

	if s.cfg.Pruner != nil {
		if n := s.cfg.Pruner.Prune(); n > 0 {
			s.cfg.Logger.Debug("pruned idle rate limiters", zap.Int("count", n))
		}
	}
	return failed, nil
}

// Start schedules Sweep. An empty schedule uses DefaultSchedule.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := s.Sweep(ctx)
		if err != nil {
			s.cfg.Logger.Error("stale call sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			s.cfg.Logger.Info("stale calls failed", zap.Int("count", n))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	c.Start()
	s.cron = c

	s.cfg.Logger.Info("call sweeper started",
		zap.String("schedule", schedule),
		zap.Duration("max_wait", s.cfg.MaxWait),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
