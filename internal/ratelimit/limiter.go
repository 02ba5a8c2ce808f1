package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
)

// Decision is the outcome of a single limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether one more request for key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// FixedWindow wraps a ulule limiter instance. The backing store decides
// whether counters live in Redis or in process memory.
type FixedWindow struct {
	L *limiter.Limiter
}

// NewFixedWindow builds a limiter allowing perMinute requests per key.
func NewFixedWindow(store limiter.Store, perMinute int) FixedWindow {
	return FixedWindow{L: limiter.New(store, limiter.Rate{Period: time.Minute, Limit: int64(perMinute)})}
}

// Allow implements Limiter.
func (f FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	if f.L == nil {
		return Decision{Allowed: true}, nil
	}
	lctx, err := f.L.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Limit:     int(lctx.Limit),
		Remaining: int(lctx.Remaining),
		ResetAt:   time.Unix(lctx.Reset, 0),
	}, nil
}

// SlidingWindow counts events in a Redis sorted set over a rolling window.
// It is stricter than FixedWindow at window boundaries and is used for
// settlement writes.
type SlidingWindow struct {
	Client redis.UniversalClient
	Prefix string
	Window time.Duration
	Max    int
	Now    func() time.Time
}

// Allow implements Limiter.
func (s SlidingWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	until := now.Add(s.Window)
	if s.Client == nil || s.Max <= 0 || s.Window <= 0 {
		return Decision{Allowed: true, Limit: s.Max, Remaining: s.Max, ResetAt: until}, nil
	}

	redisKey := s.Prefix + key
	cutoff := now.Add(-s.Window).UnixNano()

	pipe := s.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", fmt.Sprintf("%d", cutoff))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, s.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	current := int(count.Val())
	remaining := s.Max - current
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: current <= s.Max, Limit: s.Max, Remaining: remaining, ResetAt: until}, nil
}
