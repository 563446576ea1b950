// Package quota limits how many calls each user may place.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCallsPerMinute is the per-user allowance when none is configured.
const DefaultCallsPerMinute = 5

// idleTTL is how long an untouched user bucket is kept.
const idleTTL = 3 * time.Minute

// Limiter hands out per-user token buckets. A user may place PerMinute calls
// in a burst, refilled evenly over a minute.
type Limiter struct {
	perMinute int
	now       func() time.Time

	mu    sync.Mutex
	users map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter allowing perMinute calls per user. Values below one
// use DefaultCallsPerMinute.
func New(perMinute int, opts ...Option) *Limiter {
	if perMinute < 1 {
		perMinute = DefaultCallsPerMinute
	}
	l := &Limiter{
		perMinute: perMinute,
		now:       time.Now,
		users:     make(map[string]*visitor),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) visitor(userID string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.users[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)}
		l.users[userID] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Allow consumes one call from the user's allowance. It returns a
// *LimitExceededError when the allowance is exhausted.
func (l *Limiter) Allow(userID string) error {
	now := l.now()
	lim := l.visitor(userID, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &LimitExceededError{UserID: userID, Limit: l.perMinute}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &LimitExceededError{UserID: userID, Limit: l.perMinute, RetryAfter: delay}
	}
	return nil
}

// Prune drops buckets idle for longer than a few minutes and reports how many
// were removed.
func (l *Limiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, v := range l.users {
		if now.Sub(v.lastSeen) > idleTTL {
			delete(l.users, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of users with a live bucket.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// LimitExceededError is returned when a user places calls too quickly.
type LimitExceededError struct {
	UserID     string
	Limit      int
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf(
		"call rate limit exceeded: %d calls per minute (user: %s, retry in %s)",
		e.Limit, e.UserID, e.RetryAfter.Round(time.Second),
	)
}

// IsLimitExceeded checks if an error is a LimitExceededError.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}
