package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCachePutGetRoundtrip(t *testing.T) {
	redis := miniredis.RunT(t)
	c := New(redis.Addr(), "", time.Minute)
	ctx := context.Background()

	c.Put(ctx, BooksKey, payload{Name: "catalog", Count: 3}, 0)

	var got payload
	if !c.Get(ctx, BooksKey, &got) {
		t.Fatalf("expected cache hit")
	}
	if got.Name != "catalog" || got.Count != 3 {
		t.Fatalf("unexpected cached value: %+v", got)
	}
}

func TestCacheMissAfterTTL(t *testing.T) {
	redis := miniredis.RunT(t)
	c := New(redis.Addr(), "", time.Minute)
	ctx := context.Background()

	c.Put(ctx, BooksKey, payload{Name: "catalog"}, 0)
	redis.FastForward(61 * time.Second)

	var got payload
	if c.Get(ctx, BooksKey, &got) {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestCacheUndecodableValueIsAMiss(t *testing.T) {
	redis := miniredis.RunT(t)
	c := New(redis.Addr(), "", time.Minute)

	if err := redis.Set(BooksKey, "{not json"); err != nil {
		t.Fatalf("seed corrupt value: %v", err)
	}
	var got payload
	if c.Get(context.Background(), BooksKey, &got) {
		t.Fatalf("expected corrupt value to degrade to a miss")
	}
}

func TestCacheDeleteByPrefix(t *testing.T) {
	redis := miniredis.RunT(t)
	c := New(redis.Addr(), "", time.Minute)
	ctx := context.Background()

	c.Put(ctx, BooksKey, payload{Name: "books"}, 0)
	c.Put(ctx, BookPrefix+"recent", payload{Name: "recent"}, 0)
	c.Put(ctx, MembersKey, payload{Name: "members"}, 0)

	c.DeleteByPrefix(ctx, BookPrefix)

	var got payload
	if c.Get(ctx, BooksKey, &got) {
		t.Fatalf("expected %s to be invalidated", BooksKey)
	}
	if c.Get(ctx, BookPrefix+"recent", &got) {
		t.Fatalf("expected all keys under the book prefix to be invalidated")
	}
	if !c.Get(ctx, MembersKey, &got) {
		t.Fatalf("expected other namespaces to survive")
	}
}

func TestCacheClear(t *testing.T) {
	redis := miniredis.RunT(t)
	c := New(redis.Addr(), "", time.Minute)
	ctx := context.Background()

	c.Put(ctx, BooksKey, payload{}, 0)
	c.Put(ctx, MembersKey, payload{}, 0)
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	var got payload
	if c.Get(ctx, BooksKey, &got) || c.Get(ctx, MembersKey, &got) {
		t.Fatalf("expected empty cache after clear")
	}
}

func TestCacheFailuresDegradeToMiss(t *testing.T) {
	redis := miniredis.RunT(t)
	c := New(redis.Addr(), "", time.Minute)
	redis.Close()

	ctx := context.Background()
	var got payload
	if c.Get(ctx, BooksKey, &got) {
		t.Fatalf("expected miss when redis is down")
	}
	// Best-effort writes must not panic or error out.
	c.Put(ctx, BooksKey, payload{Name: "ignored"}, 0)
	c.Delete(ctx, BooksKey)
	c.DeleteByPrefix(ctx, BookPrefix)
}

func TestCacheStats(t *testing.T) {
	redis := miniredis.RunT(t)
	c := New(redis.Addr(), "", time.Minute)
	ctx := context.Background()

	c.Put(ctx, BooksKey, payload{}, 0)
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Keys != 1 {
		t.Fatalf("keys = %d, want 1", stats.Keys)
	}
}
