package dialer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/call"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OnExternalEvent applies a provider callback, a scripted demo step or a
// detection result to its call and returns the call as stored afterwards.
//
// Events on terminal calls and events that do not fit the current state are
// logged and ignored. The provider's own label is only an outcome for
// provider-native calls and is dropped from every other call's events. An
// answered call moves straight on to analysis: provider-native calls take the
// label, the rest start their detector in the background.
func (s *Service) OnExternalEvent(ctx context.Context, ev call.Event) (*call.Call, error) {
	id, err := s.resolve(ctx, ev)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if ev.Outcome != nil && ev.Kind != call.EventDetection {
		cur, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Strategy != amd.ProviderNative {
			ev.Outcome = nil
		}
	}

	c, tr, err := s.applyLocked(ctx, id, ev)
	if err != nil || !tr.Changed || tr.To != call.StatusAnswered {
		return c, err
	}

	c, tr, err = s.applyLocked(ctx, id, call.Event{CallID: id.String(), Kind: call.EventAnalyzing})
	if err != nil || tr.To != call.StatusAnalyzing {
		return c, err
	}

	if ev.Outcome != nil && c.Strategy == amd.ProviderNative {
		out := *ev.Outcome
		s.metrics.RecordDetection(ctx, out.Strategy, string(out.Result), out.Fallback, out.Latency())
		c, _, err = s.applyLocked(ctx, id, call.Event{
			CallID:          id.String(),
			Kind:            call.EventDetection,
			Outcome:         &out,
			DurationSeconds: ev.DurationSeconds,
		})
		return c, err
	}

	s.startDetection(c)
	return c, nil
}

// resolve finds the call id an event refers to.
func (s *Service) resolve(ctx context.Context, ev call.Event) (uuid.UUID, error) {
	if ev.CallID != "" {
		id, err := uuid.Parse(ev.CallID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: malformed call id %q", ErrInvalidRequest, ev.CallID)
		}
		return id, nil
	}
	if ev.ExternalID == "" {
		return uuid.Nil, fmt.Errorf("%w: event names no call", ErrInvalidRequest)
	}
	c, err := s.store.GetCallByExternalID(ctx, ev.ExternalID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get call by external id %s: %w", ev.ExternalID, err)
	}
	if c == nil {
		return uuid.Nil, ErrCallNotFound
	}
	return c.ID, nil
}

// applyLocked runs one event through the state machine and persists the
// result. The caller holds the call's lock.
func (s *Service) applyLocked(ctx context.Context, id uuid.UUID, ev call.Event) (*call.Call, call.Transition, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, call.Transition{}, err
	}
	log := s.logger.With(
		zap.String("call_id", id.String()),
		zap.String("event", string(ev.Kind)),
	)

	next := c.Clone()
	tr, err := s.machine.Apply(next, ev)
	if err != nil {
		log.Info("event ignored", zap.String("status", string(c.Status)), zap.Error(err))
		return c, call.Transition{From: c.Status, To: c.Status}, nil
	}
	if !tr.Changed {
		if c.Status.IsTerminal() {
			log.Debug("event on finished call ignored", zap.String("status", string(c.Status)))
		}
		return c, tr, nil
	}

	if err := s.store.UpdateCall(ctx, next, tr.From); err != nil {
		if errors.Is(err, database.ErrStaleUpdate) {
			log.Warn("call changed concurrently, event discarded")
			fresh, lerr := s.load(ctx, id)
			return fresh, call.Transition{From: tr.From, To: tr.From}, lerr
		}
		return nil, call.Transition{}, fmt.Errorf("update call %s: %w", id, err)
	}

	log.Info("call status changed",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("reason", ev.Reason),
	)
	if next.Status.IsTerminal() {
		s.stopTimers(id)
		s.metrics.CallFinished(ctx, string(next.Status))
		if ev.Outcome != nil && next.Result != nil {
			log.Info("strategy performance",
				zap.String("strategy", ev.Outcome.Strategy),
				zap.String("result", string(*next.Result)),
				zap.Float64("confidence", *next.Confidence),
				zap.Int64("processing_time_ms", ev.Outcome.LatencyMS),
				zap.String("target_number", next.TargetNumber),
			)
		}
	}
	return next, tr, nil
}

// startDetection runs the call's detector in the background and feeds its
// outcome back as a detection event. If the call finished in the meantime
// the outcome is discarded by the state machine.
func (s *Service) startDetection(c *call.Call) {
	id := c.ID
	det, ok := s.registry.Resolve(string(c.Strategy))
	if !ok {
		s.logger.Error("no detector for strategy", zap.String("call_id", id.String()), zap.String("strategy", string(c.Strategy)))
		if _, _, err := s.applyLocked(s.ctx, id, call.Event{CallID: id.String(), Kind: call.EventFailed, Reason: "no detector"}); err != nil {
			s.logger.Error("fail call", zap.String("call_id", id.String()), zap.Error(err))
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.detectionTimeout)
		defer cancel()

		out, err := det.Analyze(ctx, nil)
		if s.ctx.Err() != nil {
			return
		}
		ev := call.Event{CallID: id.String(), Kind: call.EventDetection, Outcome: &out}
		if err != nil {
			s.logger.Error("detector failed", zap.String("call_id", id.String()), zap.Error(err))
			ev = call.Event{CallID: id.String(), Kind: call.EventFailed, Reason: err.Error()}
		} else {
			s.metrics.RecordDetection(s.ctx, out.Strategy, string(out.Result), out.Fallback, out.Latency())
		}
		if _, err := s.OnExternalEvent(s.ctx, ev); err != nil {
			s.logger.Error("apply detection", zap.String("call_id", id.String()), zap.Error(err))
		}
	}()
}
