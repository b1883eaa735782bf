package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// The script purges entries older than the window, rejects without
// recording when the key is at its budget, and otherwise records the
// request. The key TTL equals the window, so idle keys expire on their
// own and no background sweeper is needed.
var slidingWindowScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, cutoff)
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[3]) then
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  return {0, count, oldest[2]}
end
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return {1, count + 1, "0"}
`)

// Class buckets requests so creation traffic gets a stricter budget
// than general reads.
type Class string

const (
	ClassCreate  Class = "create"
	ClassGeneral Class = "general"
)

// Decision is the outcome of one Allow call. RetryAfter is zero when
// the request is admitted; when rejected it approximates how long the
// caller should wait before the oldest recorded request leaves the
// window.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// SlidingWindowLimiter bounds requests per (client, class) pair over a
// sliding time window, backed by a Redis sorted set per pair.
// On Redis failures it fails closed and rejects.
type SlidingWindowLimiter struct {
	window time.Duration
	limits map[Class]int

	redisClient *redis.Client
	redisPrefix string
}

// NewRedisSlidingWindowLimiter creates a Redis-backed limiter. limits
// maps each class to its budget per window; classes without an entry
// fall back to the general budget.
func NewRedisSlidingWindowLimiter(addr, password, prefix string, window time.Duration, limits map[Class]int) (*SlidingWindowLimiter, error) {
	if window <= 0 {
		return nil, errors.New("rate limiter requires a positive window")
	}
	if limits[ClassGeneral] <= 0 {
		return nil, errors.New("rate limiter requires a positive general budget")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "librarian:ratelimit"
	}
	return &SlidingWindowLimiter{
		window: window,
		limits: limits,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: prefix,
	}, nil
}

// Allow admits or rejects one request for the given client and class.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, clientID string, class Class) Decision {
	if l == nil {
		return Decision{}
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = "unknown"
	}
	max := l.limits[class]
	if max <= 0 {
		max = l.limits[ClassGeneral]
	}
	key := fmt.Sprintf("%s:%s:%s", l.redisPrefix, class, clientID)
	windowMs := l.window.Milliseconds()
	nowMs := time.Now().UTC().UnixMilli()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := slidingWindowScript.Run(ctx, l.redisClient,
		[]string{key}, nowMs, windowMs, max, uuid.NewString()).Slice()
	if err != nil || len(res) != 3 {
		return Decision{}
	}

	allowed := toInt64(res[0]) == 1
	count := toInt64(res[1])
	dec := Decision{Allowed: allowed, Remaining: max - int(count)}
	if dec.Remaining < 0 {
		dec.Remaining = 0
	}
	if !allowed {
		oldestMs := toInt64(res[2])
		if oldestMs > 0 {
			dec.RetryAfter = time.Duration(oldestMs+windowMs-nowMs) * time.Millisecond
			if dec.RetryAfter < 0 {
				dec.RetryAfter = 0
			}
		}
	}
	return dec
}

func toInt64(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return int64(f)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
