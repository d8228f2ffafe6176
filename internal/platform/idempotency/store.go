package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record: 初回レスポンスの控え。同じキーの再送にはこれをそのまま返す
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

var ErrInFlight = errors.New("request with this idempotency key is still in progress")

type Store interface {
	// Reserve: 未使用なら確保して (nil, nil)。完了済みなら控えを返す。処理中なら ErrInFlight
	Reserve(ctx context.Context, key string, ttl time.Duration) (*Record, error)
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

const pendingMarker = "__pending__"

// ===== redis =====

type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (*Record, error) {
	ok, err := s.rdb.SetNX(ctx, key, pendingMarker, ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// 期限切れと競合した。もう一度だけ確保を試みる
		ok, err = s.rdb.SetNX(ctx, key, pendingMarker, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, err
	}
	if string(b) == pendingMarker {
		return nil, ErrInFlight
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// ===== memory (単一プロセス / テスト用) =====

type memEntry struct {
	rec     *Record // nil なら処理中
	expires time.Time
}

// 期限切れエントリの掃除間隔
const sweepInterval = time.Minute

type MemoryStore struct {
	mu        sync.Mutex
	m         map[string]memEntry
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: map[string]memEntry{}, now: time.Now}
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)
	if e, ok := s.m[key]; ok && now.Before(e.expires) {
		if e.rec == nil {
			return nil, ErrInFlight
		}
		cp := *e.rec
		return &cp, nil
	}
	s.m[key] = memEntry{expires: now.Add(ttl)}
	return nil, nil
}

// sweep: mu を持った状態で呼ぶ
func (s *MemoryStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for k, e := range s.m {
		if !now.Before(e.expires) {
			delete(s.m, k)
		}
	}
}

func (s *MemoryStore) Complete(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = memEntry{rec: &rec, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
