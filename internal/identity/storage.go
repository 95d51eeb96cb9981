package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates a MemoryStorage holding a copy of values.
func NewMemoryStorage(values map[string]string) *MemoryStorage {
	m := &MemoryStorage{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Get implements Storage.
func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores a value.
func (m *MemoryStorage) Set(key, value string) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// FileStorage reads a flat JSON object of string values from disk. The file
// is re-read on every Get so edits made by other tools are picked up.
type FileStorage struct {
	path string
}

// NewFileStorage creates a FileStorage for path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Get implements Storage. A missing file behaves like an empty store.
func (f *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("identity: read %s: %w", f.path, err)
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return "", false, fmt.Errorf("identity: parse %s: %w", f.path, err)
	}
	v, ok := values[key]
	return v, ok, nil
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// ProfilePrefix is the Redis key prefix for stored client profiles. Each
// profile is a hash of storage key -> value.
const ProfilePrefix = "profile:"

// RedisStorage reads a client profile hash from Redis.
type RedisStorage struct {
	client  *redis.Client
	profile string
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(redisAddr, profile string) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("identity: redis connection failed: %w", err)
	}

	return &RedisStorage{client: client, profile: profile}, nil
}

// NewRedisStorageFromClient wraps an existing client.
func NewRedisStorageFromClient(client *redis.Client, profile string) *RedisStorage {
	return &RedisStorage{client: client, profile: profile}
}

// Get implements Storage.
func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, ProfilePrefix+r.profile, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("identity: redis HGET %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores a value in the profile hash.
func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	return r.client.HSet(ctx, ProfilePrefix+r.profile, key, value).Err()
}

// Close closes the Redis connection.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}
