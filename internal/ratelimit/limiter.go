// Package ratelimit throttles API callers with a generic cell rate
// algorithm kept in redis. Each subject owns a single key holding its
// theoretical arrival time, so the check is one round trip and needs no
// background refill.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pixeltensor:ratelimit"

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// gcraScript returns {allowed, remaining, retry_after_ms}.
//
// ARGV: interval_ms, burst_ms, now_ms, cost.
var gcraScript = redis.NewScript(`
local interval = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tat = tonumber(redis.call("GET", KEYS[1])) or now
if tat < now then
  tat = now
end

local next_tat = tat + interval * cost
local allow_at = next_tat - burst
if allow_at > now then
  return {0, 0, math.ceil(allow_at - now)}
end

redis.call("SET", KEYS[1], tostring(next_tat), "PX", math.max(1, math.ceil(next_tat - now)))
return {1, math.floor((now - (next_tat - burst)) / interval), 0}
`)

// RedisLimiter admits Limit requests per window for each subject, with the
// whole allowance available as a burst.
type RedisLimiter struct {
	client     redis.UniversalClient
	limit      int64
	intervalMS float64
	prefix     string
	now        func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration, keyPrefix string) (*RedisLimiter, error) {
	switch {
	case client == nil:
		return nil, errors.New("ratelimit: redis client is required")
	case limit <= 0:
		return nil, fmt.Errorf("ratelimit: limit must be positive, got %d", limit)
	case window <= 0:
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}

	prefix := strings.TrimRight(strings.TrimSpace(keyPrefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLimiter{
		client:     client,
		limit:      int64(limit),
		intervalMS: float64(window) / float64(time.Millisecond) / float64(limit),
		prefix:     prefix,
		now:        time.Now,
	}, nil
}

// Allow charges one request to subject.
func (l *RedisLimiter) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.Take(ctx, subject, 1)
}

// Take charges cost requests to subject at once. A cost above the limit is
// never admitted.
func (l *RedisLimiter) Take(ctx context.Context, subject string, cost int) (Decision, error) {
	if cost <= 0 {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}, nil
	}
	if int64(cost) > l.limit {
		return Decision{Limit: l.limit}, fmt.Errorf("ratelimit: cost %d exceeds limit %d", cost, l.limit)
	}

	raw, err := gcraScript.Run(ctx, l.client,
		[]string{l.subjectKey(subject)},
		l.intervalMS,
		l.intervalMS*float64(l.limit),
		l.now().UnixMilli(),
		cost,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: run gcra script: %w", err)
	}
	return l.decision(raw)
}

func (l *RedisLimiter) subjectKey(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.prefix + ":" + subject
}

func (l *RedisLimiter) decision(raw []int64) (Decision, error) {
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: script returned %d values, want 3", len(raw))
	}
	return Decision{
		Allowed:    raw[0] == 1,
		Limit:      l.limit,
		Remaining:  min(max(raw[1], 0), l.limit),
		RetryAfter: time.Duration(raw[2]) * time.Millisecond,
	}, nil
}

// RetryAfterSeconds rounds d up to whole seconds for the Retry-After header.
func (d Decision) RetryAfterSeconds() string {
	return strconv.Itoa(max(1, int(math.Ceil(d.RetryAfter.Seconds()))))
}
