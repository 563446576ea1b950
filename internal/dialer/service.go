// Package dialer places outbound calls and drives them through their
// lifecycle: provider callbacks and scripted demo progress are applied to
// the call state machine, detection runs once a call is answered, and the
// outcome is persisted.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/dialsense/dialsense/internal/observe"
	"github.com/dialsense/dialsense/internal/quota"
	"github.com/dialsense/dialsense/internal/telephony"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrCallNotFound is returned for unknown call ids.
	ErrCallNotFound = errors.New("dialer: call not found")
	// ErrInvalidRequest wraps validation failures of caller input.
	ErrInvalidRequest = errors.New("dialer: invalid request")
	// ErrProviderFailure wraps errors from the telephony provider.
	ErrProviderFailure = errors.New("dialer: telephony provider failed")
)

// Store persists calls. database.DB, database.SQLite and database.Memory
// implement it.
type Store interface {
	CreateCall(ctx context.Context, c *call.Call) error
	GetCall(ctx context.Context, id uuid.UUID) (*call.Call, error)
	GetCallByExternalID(ctx context.Context, externalID string) (*call.Call, error)
	UpdateCall(ctx context.Context, c *call.Call, from call.Status) error
	ListCalls(ctx context.Context, params database.ListCallsParams) ([]call.Call, error)
	CountCalls(ctx context.Context, params database.ListCallsParams) (int, error)
	ListStaleCalls(ctx context.Context, olderThan time.Time, limit int) ([]call.Call, error)
}

// DemoScript times the simulated progress of a demo call. Each delay is
// relative to the previous step.
type DemoScript struct {
	Start   time.Duration
	Ringing time.Duration
	Answer  time.Duration
}

// DefaultDemoScript starts after 1s, rings 1.5s later and is answered 1.8s
// after that.
func DefaultDemoScript() DemoScript {
	return DemoScript{Start: time.Second, Ringing: 1500 * time.Millisecond, Answer: 1800 * time.Millisecond}
}

// Config holds the service's collaborators. Only Store and Registry are
// required.
type Config struct {
	Store    Store
	Registry *amd.Registry
	// Provider places real calls. Without one only demo calls are possible.
	Provider  telephony.Provider
	Machine   *call.Machine
	Scheduler Scheduler
	Limiter   *quota.Limiter
	Metrics   *observe.Metrics
	Logger    *zap.Logger

	DefaultStrategy amd.StrategyID
	// PublicBaseURL is where the provider reaches the webhook and TwiML
	// endpoints.
	PublicBaseURL    string
	Demo             DemoScript
	DetectionTimeout time.Duration
	Now              func() time.Time
}

// Service is the call orchestration context. It owns no global state; every
// dependency comes from Config.
type Service struct {
	store            Store
	registry         *amd.Registry
	provider         telephony.Provider
	simulated        *telephony.Simulated
	machine          *call.Machine
	scheduler        Scheduler
	limiter          *quota.Limiter
	metrics          *observe.Metrics
	logger           *zap.Logger
	defaultStrategy  amd.StrategyID
	baseURL          string
	demo             DemoScript
	detectionTimeout time.Duration
	now              func() time.Time

	locks *keyedMutex

	timersMu sync.Mutex
	timers   map[uuid.UUID][]Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("dialer: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("dialer: detector registry is required")
	}
	if cfg.Machine == nil {
		cfg.Machine = call.NewMachine()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = quota.New(quota.DefaultCallsPerMinute)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Nop()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if !cfg.DefaultStrategy.IsValid() {
		cfg.DefaultStrategy = amd.ProviderNative
	}
	if cfg.Demo == (DemoScript{}) {
		cfg.Demo = DefaultDemoScript()
	}
	if cfg.DetectionTimeout <= 0 {
		cfg.DetectionTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:            cfg.Store,
		registry:         cfg.Registry,
		provider:         cfg.Provider,
		simulated:        telephony.NewSimulated(),
		machine:          cfg.Machine,
		scheduler:        cfg.Scheduler,
		limiter:          cfg.Limiter,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		defaultStrategy:  cfg.DefaultStrategy,
		baseURL:          strings.TrimRight(cfg.PublicBaseURL, "/"),
		demo:             cfg.Demo,
		detectionTimeout: cfg.DetectionTimeout,
		now:              cfg.Now,
		locks:            newKeyedMutex(),
		timers:           make(map[uuid.UUID][]Timer),
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Close stops scheduled work and waits for running detections to return.
// Their results are discarded.
func (s *Service) Close() {
	s.cancel()
	s.timersMu.Lock()
	for id, ts := range s.timers {
		for _, t := range ts {
			t.Stop()
		}
		delete(s.timers, id)
	}
	s.timersMu.Unlock()
	s.wg.Wait()
}

// Wait blocks until in-flight detections have been applied.
func (s *Service) Wait() {
	s.wg.Wait()
}

// InitiateParams describes a call request.
type InitiateParams struct {
	UserID       string
	TargetNumber string
	// Strategy is a strategy id or alias. Empty selects the default.
	Strategy string
	// Demo simulates the call instead of dialling it.
	Demo bool
}

// Initiate creates a call and hands it to the provider, or to the demo
// script. A provider failure leaves the call failed; the failed call is
// returned together with an error wrapping ErrProviderFailure.
func (s *Service) Initiate(ctx context.Context, p InitiateParams) (*call.Call, error) {
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if !telephony.ValidNumber(p.TargetNumber) {
		return nil, fmt.Errorf("%w: invalid phone number %q", ErrInvalidRequest, p.TargetNumber)
	}
	if !p.Demo && s.provider == nil {
		return nil, telephony.ErrMissingCredentials
	}
	if err := s.limiter.Allow(userID); err != nil {
		return nil, err
	}

	strategy := s.strategyFor(p.Strategy)
	c := call.New(userID, telephony.FormatE164(p.TargetNumber), strategy, s.now())
	log := s.logger.With(zap.String("call_id", c.ID.String()))

	unlock := s.locks.Lock(c.ID)
	defer unlock()

	if p.Demo {
		res, err := s.simulated.Place(ctx, telephony.PlaceRequest{To: c.TargetNumber})
		if err != nil {
			return nil, err
		}
		c.ExternalID = &res.ExternalID
	}
	if err := s.store.CreateCall(ctx, c); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	s.metrics.CallStarted(ctx)
	log.Info("call initiated",
		zap.String("user_id", userID),
		zap.String("strategy", string(strategy)),
		zap.Bool("demo", p.Demo),
	)

	if p.Demo {
		s.scheduleDemo(c.ID)
		return c, nil
	}

	res, err := s.provider.Place(ctx, telephony.PlaceRequest{
		To:             c.TargetNumber,
		StatusCallback: s.baseURL + "/api/twilio/webhook?callId=" + c.ID.String(),
		AnswerURL:      s.baseURL + "/api/twilio/twiml",
	})
	if err != nil {
		log.Error("place call failed", zap.Error(err))
		failed, _, ferr := s.applyLocked(ctx, c.ID, call.Event{Kind: call.EventFailed, Reason: err.Error()})
		if ferr != nil {
			return nil, errors.Join(fmt.Errorf("%w: %w", ErrProviderFailure, err), ferr)
		}
		return failed, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	placed := c.Clone()
	placed.ExternalID = &res.ExternalID
	placed.UpdatedAt = s.now()
	if err := s.store.UpdateCall(ctx, placed, c.Status); err != nil {
		return nil, fmt.Errorf("record provider call id: %w", err)
	}
	log.Info("call placed", zap.String("external_id", res.ExternalID), zap.String("provider_status", res.Status))
	return placed, nil
}

func (s *Service) strategyFor(name string) amd.StrategyID {
	if strings.TrimSpace(name) == "" {
		return s.defaultStrategy
	}
	if id, ok := amd.ParseStrategy(name); ok {
		return id
	}
	s.logger.Warn("unknown strategy, using provider-native", zap.String("strategy", name))
	return amd.ProviderNative
}

// scheduleDemo queues the scripted ringing and answered events.
func (s *Service) scheduleDemo(id uuid.UUID) {
	ringAt := s.demo.Start + s.demo.Ringing
	answerAt := ringAt + s.demo.Answer

	step := func(kind call.EventKind) func() {
		return func() {
			if s.ctx.Err() != nil {
				return
			}
			if _, err := s.OnExternalEvent(s.ctx, call.Event{CallID: id.String(), Kind: kind}); err != nil {
				s.logger.Error("scripted event failed",
					zap.String("call_id", id.String()),
					zap.String("event", string(kind)),
					zap.Error(err),
				)
			}
		}
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	s.timers[id] = append(s.timers[id],
		s.scheduler.AfterFunc(ringAt, step(call.EventRinging)),
		s.scheduler.AfterFunc(answerAt, step(call.EventAnswered)),
	)
}

func (s *Service) stopTimers(id uuid.UUID) {
	s.timersMu.Lock()
	ts := s.timers[id]
	delete(s.timers, id)
	s.timersMu.Unlock()
	for _, t := range ts {
		t.Stop()
	}
}

// Hangup ends a call. Hanging up a finished call is a no-op. A detection
// still running for the call is discarded when it returns.
func (s *Service) Hangup(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return c, nil
	}
	if c.ExternalID != nil && s.provider != nil && !telephony.IsSimulated(*c.ExternalID) {
		if err := s.provider.Hangup(ctx, *c.ExternalID); err != nil {
			s.logger.Warn("provider hangup failed",
				zap.String("call_id", id.String()),
				zap.Error(err),
			)
		}
	}
	updated, _, err := s.applyLocked(ctx, id, call.Event{CallID: id.String(), Kind: call.EventHangup})
	return updated, err
}

// Get returns a call by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	return s.load(ctx, id)
}

// List returns a page of calls matching params and the total match count.
func (s *Service) List(ctx context.Context, params database.ListCallsParams) ([]call.Call, int, error) {
	calls, err := s.store.ListCalls(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list calls: %w", err)
	}
	total, err := s.store.CountCalls(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("count calls: %w", err)
	}
	return calls, total, nil
}

// RunComparison runs the named strategies against sample concurrently and
// reconciles their outcomes.
func (s *Service) RunComparison(ctx context.Context, sample amd.Sample, names []string) (*amd.Report, error) {
	outcomes, err := s.registry.RunAll(ctx, sample, names)
	if err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		s.metrics.RecordDetection(ctx, o.Strategy, string(o.Result), o.Fallback, o.Latency())
	}
	report, err := amd.Aggregate(outcomes)
	if err != nil {
		return nil, err
	}
	s.logger.Info("strategy comparison",
		zap.Int("strategies", report.TotalStrategies),
		zap.String("consensus", string(report.Majority)),
		zap.Float64("mean_confidence", report.MeanConfidence),
	)
	return report, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*call.Call, error) {
	c, err := s.store.GetCall(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get call %s: %w", id, err)
	}
	if c == nil {
		return nil, ErrCallNotFound
	}
	return c, nil
}
