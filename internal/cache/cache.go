package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key namespaces. Every cached value lives under one of these prefixes
// so writes can invalidate whole namespaces at once.
const (
	BookPrefix   = "books:"
	MemberPrefix = "members:"
	LoanPrefix   = "loans:"
	StatsPrefix  = "stats:"

	BooksKey        = BookPrefix + "all"
	MembersKey      = MemberPrefix + "all"
	LoansKey        = LoanPrefix + "all"
	DashboardKey    = StatsPrefix + "dashboard"
	PopularBooksKey = StatsPrefix + "popular_books"
)

const (
	// DefaultTTL bounds staleness when an invalidation is missed.
	DefaultTTL = 5 * time.Minute

	opTimeout = 3 * time.Second
)

// Cache is a Redis-backed read-through cache with JSON values.
//
// Cache failures never fail the caller: Get degrades to a miss and Put,
// Delete, and DeleteByPrefix are best-effort. Every failure is logged.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Redis-backed cache. A non-positive ttl selects DefaultTTL.
func New(addr, password string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

// Get loads key into dest. It returns false on a miss, on any Redis
// failure, and on undecodable payloads.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		slog.Warn("cache get failed", "key", key, "err", err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		slog.Warn("cache decode failed, treating as miss", "key", key, "err", err)
		return false
	}
	return true
}

// Put stores value under key. A non-positive ttl selects the default.
func (c *Cache) Put(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	raw, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache encode failed", "key", key, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		slog.Warn("cache put failed", "key", key, "err", err)
	}
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.client.Del(ctx, keys...).Err(); err != nil && err != redis.Nil {
		slog.Warn("cache delete failed", "keys", strings.Join(keys, ","), "err", err)
	}
}

// DeleteByPrefix removes every key under prefix. The scan-then-delete
// is not atomic as a batch; the TTL bounds any staleness that slips
// through.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Warn("cache scan failed", "prefix", prefix, "err", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache prefix delete failed", "prefix", prefix, "err", err)
	}
}

// Clear wipes the whole cache namespace. Administrative use only.
func (c *Cache) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.FlushDB(ctx).Err()
}

// Ping checks connectivity to the backing store.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Stats describes cache keyspace activity.
type Stats struct {
	Keys   int64 `json:"keys"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats reports keyspace size and hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	keys, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, err
	}
	// Hit/miss counters are optional; not every backend reports them.
	info, err := c.client.Info(ctx, "stats").Result()
	if err != nil {
		info = ""
	}
	return Stats{
		Keys:   keys,
		Hits:   infoCounter(info, "keyspace_hits"),
		Misses: infoCounter(info, "keyspace_misses"),
	}, nil
}

func infoCounter(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, field+":"); ok {
			n, _ := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			return n
		}
	}
	return 0
}
