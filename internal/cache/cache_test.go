package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestLRUCache_EvictsOldest(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a becomes most recent
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatal("expected a to survive")
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestLRUCache_TTL(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", "v")
	c.Set("k2", "v2")

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 cleaned entry, got %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}
}

func TestLRUCache_DeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("user1:stats", 1)
	c.Set("user1:chart", 2)
	c.Set("user2:stats", 3)
	if n := c.DeletePrefix("user1:"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("user2:stats"); !ok {
		t.Fatal("other prefix must survive")
	}
}

func TestLocalGroupCache(t *testing.T) {
	ctx := context.Background()
	c := NewLocalGroupCache[string](10, time.Minute)
	_ = c.Set(ctx, "u1", "stats", "a")
	_ = c.Set(ctx, "u1", "chart:2025", "b")
	_ = c.Set(ctx, "u10", "stats", "c")

	if v, ok, _ := c.Get(ctx, "u1", "stats"); !ok || v != "a" {
		t.Fatalf("unexpected get %q %v", v, ok)
	}
	_ = c.DeleteGroup(ctx, "u1")
	if _, ok, _ := c.Get(ctx, "u1", "chart:2025"); ok {
		t.Fatal("group should be gone")
	}
	if _, ok, _ := c.Get(ctx, "u10", "stats"); !ok {
		t.Fatal("a group sharing a textual prefix must survive")
	}
}

type countingCleaner struct{ calls chan struct{} }

func (c *countingCleaner) CleanExpired() int {
	select {
	case c.calls <- struct{}{}:
	default:
	}
	return 1
}

func TestManager_CleanupLoop(t *testing.T) {
	m := NewManager(nil)
	cl := &countingCleaner{calls: make(chan struct{}, 1)}
	m.Register(cl)
	m.StartCleanup(5 * time.Millisecond)

	select {
	case <-cl.calls:
	case <-time.After(time.Second):
		t.Fatal("cleanup never ran")
	}
	m.Stop()
	m.Stop()

	if n := m.CleanNow(); n != 1 {
		t.Fatalf("expected CleanNow to report 1, got %d", n)
	}
}

func TestManager_StopWithoutStart(t *testing.T) {
	m := NewManager(nil)
	m.Stop()
}

func newTestRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisCache[testStats]) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisCache[testStats](rdb, "ainopay:dashboard:stats:", ttl)
}

type testStats struct{ Total int }

func TestRedisCache_SetGetDeleteGroup(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestRedis(t, 5*time.Minute)

	if _, ok, err := c.Get(ctx, "u1", "stats"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "u1", "stats", testStats{Total: 3}); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "u1", "chart:2025", testStats{Total: 7}); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "u2", "stats", testStats{Total: 9}); err != nil {
		t.Fatal(err)
	}

	v, ok, err := c.Get(ctx, "u1", "stats")
	if err != nil || !ok || v.Total != 3 {
		t.Fatalf("unexpected get %+v ok=%v err=%v", v, ok, err)
	}
	if !mr.Exists("ainopay:dashboard:stats:u1") {
		t.Fatalf("expected one hash per group, keys: %v", mr.Keys())
	}

	if err := c.DeleteGroup(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"stats", "chart:2025"} {
		if _, ok, err := c.Get(ctx, "u1", field); err != nil || ok {
			t.Fatalf("%s: expected miss after DeleteGroup, got ok=%v err=%v", field, ok, err)
		}
	}
	if v, ok, _ := c.Get(ctx, "u2", "stats"); !ok || v.Total != 9 {
		t.Fatalf("other user's group must survive, got %+v ok=%v", v, ok)
	}
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestRedis(t, 5*time.Minute)

	if err := c.Set(ctx, "u1", "stats", testStats{Total: 1}); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("ainopay:dashboard:stats:u1"); ttl != 5*time.Minute {
		t.Fatalf("expected 5m ttl on the group key, got %s", ttl)
	}

	mr.FastForward(6 * time.Minute)
	if _, ok, err := c.Get(ctx, "u1", "stats"); err != nil || ok {
		t.Fatalf("expected expired group to miss, got ok=%v err=%v", ok, err)
	}
}

func TestRedisCache_CorruptValue(t *testing.T) {
	ctx := context.Background()
	mr, c := newTestRedis(t, time.Minute)
	mr.HSet("ainopay:dashboard:stats:u1", "stats", "{not json")

	if _, ok, err := c.Get(ctx, "u1", "stats"); err == nil || ok {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisClient(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected ping failure")
	}
	if _, err := NewRedisClient(context.Background(), "://bad"); err == nil {
		t.Fatal("expected parse failure")
	}
}
