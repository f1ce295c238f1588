package session

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	if snap, err := store.Load(ctx, "missing"); err != nil || snap != nil {
		t.Fatalf("Load(missing) = %v, %v", snap, err)
	}

	in := &Snapshot{
		ID:       testSessionID,
		StartFEN: "start",
		FEN:      "now",
		Human:    "black",
		MovesUCI: []string{"e2e4"},
		MovesSAN: []string{"e4"},
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("board:" + testSessionID); ttl != ttlSnapshot {
		t.Fatalf("ttl = %v", ttl)
	}

	out, err := store.Load(ctx, testSessionID)
	if err != nil || out == nil {
		t.Fatalf("Load: %v, %v", out, err)
	}
	if out.FEN != "now" || out.Human != "black" || len(out.MovesSAN) != 1 {
		t.Fatalf("loaded %+v", out)
	}

	mr.FastForward(ttlSnapshot + time.Second)
	if snap, _ := store.Load(ctx, testSessionID); snap != nil {
		t.Fatalf("snapshot survived its ttl")
	}
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, &Snapshot{ID: testSessionID, FEN: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, testSessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if snap, _ := store.Load(ctx, testSessionID); snap != nil {
		t.Fatalf("snapshot not deleted")
	}
}

func TestRedisStoreFromURL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	store, err := NewRedisStoreFromURL(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedisStoreFromURL: %v", err)
	}
	defer store.Close()
	if err := store.Save(context.Background(), &Snapshot{ID: "a", FEN: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("board:a") {
		t.Fatalf("key not written")
	}

	if _, err := NewRedisStoreFromURL(context.Background(), "://bad"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	in := &Snapshot{ID: "a", MovesUCI: []string{"e2e4"}}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	in.MovesUCI[0] = "d2d4"
	out, _ := store.Load(ctx, "a")
	if out.MovesUCI[0] != "e2e4" {
		t.Fatalf("stored snapshot aliased the caller's slice")
	}
}
