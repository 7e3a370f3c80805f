package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 是缓存层依赖的最小存储接口：按 key 读写数据，以及读取和递增标签版本号
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	TagVersions(ctx context.Context, tags []string) ([]int64, error)
	BumpTags(ctx context.Context, tags []string) error
}

type RedisStore struct {
	rdb    *redis.Client
	prefix string
	tagTTL time.Duration
}

// NewRedisStore 创建基于 redis 的存储。tagTTL 必须长于任何缓存条目的过期时间，
// 否则标签过期后版本号归零，可能让失效前写入的条目重新生效
func NewRedisStore(rdb *redis.Client, prefix string, tagTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, tagTTL: tagTTL}
}

func (s *RedisStore) tagKey(tag string) string {
	return s.prefix + ":tag:" + tag
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.prefix+":"+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.prefix+":"+key, value, ttl).Err()
}

func (s *RedisStore) TagVersions(ctx context.Context, tags []string) ([]int64, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = s.tagKey(tag)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	versions := make([]int64, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // 标签从未失效过
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, err
		}
		versions[i] = n
	}
	return versions, nil
}

// BumpTags 在一个 MULTI/EXEC 中递增所有标签的版本号，并刷新标签的过期时间
func (s *RedisStore) BumpTags(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			pipe.Incr(ctx, s.tagKey(tag))
			if s.tagTTL > 0 {
				pipe.Expire(ctx, s.tagKey(tag), s.tagTTL)
			}
		}
		return nil
	})
	return err
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore 用于单进程部署和测试
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	tags    map[string]int64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		tags:    make(map[string]int64),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) TagVersions(_ context.Context, tags []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := make([]int64, len(tags))
	for i, tag := range tags {
		versions[i] = s.tags[tag]
	}
	return versions, nil
}

func (s *MemoryStore) BumpTags(_ context.Context, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tag := range tags {
		s.tags[tag]++
	}
	return nil
}
