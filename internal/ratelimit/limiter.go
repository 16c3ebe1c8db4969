package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Record is the counter kept for one caller key
type Record struct {
	Count         int
	WindowResetAt time.Time
	LastSeen      time.Time
}

// Store persists rate records. Hit must reset the record when
// now >= WindowResetAt, then increment Count, and return the updated record.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error)
}

// Decision is the outcome of a single limiter check
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Limiter bounds the number of operations per key within a window.
// A nil *Limiter allows everything.
type Limiter struct {
	logger *zap.Logger
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

type Option func(*Limiter)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

func New(store Store, maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		logger: zap.NewNop(),
		store:  store,
		max:    maxRequests,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts the call against key and reports whether it is within the
// limit. Denied calls are counted as well. A store failure admits the call.
func (l *Limiter) Check(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}

	now := l.now()
	rec, err := l.store.Hit(ctx, key, l.window, now)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, admitting request",
			zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true, Limit: l.max}
	}

	d := Decision{
		Allowed: rec.Count <= l.max,
		Count:   rec.Count,
		Limit:   l.max,
	}
	if !d.Allowed {
		d.RetryAfter = rec.WindowResetAt.Sub(now)
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d
}

// Allow is Check without a context or details
func (l *Limiter) Allow(key string) bool {
	return l.Check(context.Background(), key).Allowed
}

func (l *Limiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.max
}

func (l *Limiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.window
}
