package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlSnapshot = 24 * time.Hour

// Store keeps the latest snapshot of each board so a client can resume it.
// Load returns nil, nil when nothing is stored.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, id string) (*Snapshot, error)
	Delete(ctx context.Context, id string) error
}

type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

// NewRedisStoreFromURL parses a redis:// URL and checks the connection.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) key(id string) string { return "board:" + strings.TrimSpace(id) }

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || strings.TrimSpace(snap.ID) == "" {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(snap.ID), raw, ttlSnapshot).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

// memoryStore is used when no Redis is configured. Snapshots do not expire.
type memoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewMemoryStore() Store {
	return &memoryStore{snaps: make(map[string]Snapshot)}
}

func (m *memoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil || strings.TrimSpace(snap.ID) == "" {
		return nil
	}
	cp := *snap
	cp.MovesUCI = append([]string(nil), snap.MovesUCI...)
	cp.MovesSAN = append([]string(nil), snap.MovesSAN...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = cp
	return nil
}

func (m *memoryStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, nil
	}
	snap.MovesUCI = append([]string(nil), snap.MovesUCI...)
	snap.MovesSAN = append([]string(nil), snap.MovesSAN...)
	return &snap, nil
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}
