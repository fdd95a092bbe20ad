package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists identity state between runs.
type Store interface {
	Load(ctx context.Context) ([]Identity, error)
	Save(ctx context.Context, identities []Identity) error
}

type snapshot struct {
	SavedAt    time.Time  `json:"saved_at"`
	Identities []Identity `json:"identities"`
}

// LoadInto restores persisted state into pool. A missing snapshot is not an
// error.
func LoadInto(ctx context.Context, store Store, pool *Pool) error {
	saved, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}
	pool.Restore(saved)
	return nil
}

// SaveFrom persists the pool's identities.
func SaveFrom(ctx context.Context, store Store, pool *Pool) error {
	if err := store.Save(ctx, pool.All()); err != nil {
		return fmt.Errorf("save identities: %w", err)
	}
	return nil
}

// FileStore keeps identity state in a JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot. A missing file yields no identities.
func (s *FileStore) Load(_ context.Context) ([]Identity, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return snap.Identities, nil
}

// Save writes the snapshot atomically via a temp file rename.
func (s *FileStore) Save(_ context.Context, identities []Identity) error {
	data, err := json.MarshalIndent(snapshot{SavedAt: time.Now().UTC(), Identities: identities}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identities: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// redisKV is the subset of the Redis client the store uses.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps identity state under a single Redis key so that several
// crawler hosts share retirements.
type RedisStore struct {
	client redisKV
	key    string
	ttl    time.Duration
}

// NewRedisStore connects to addr.
func NewRedisStore(addr, key string, ttl time.Duration) *RedisStore {
	return newRedisStore(redis.NewClient(&redis.Options{Addr: addr}), key, ttl)
}

func newRedisStore(client redisKV, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = "adcrawler:identities"
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// Load reads the snapshot. A missing key yields no identities.
func (s *RedisStore) Load(ctx context.Context) ([]Identity, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key, err)
	}
	return snap.Identities, nil
}

// Save overwrites the snapshot.
func (s *RedisStore) Save(ctx context.Context, identities []Identity) error {
	payload, err := json.Marshal(snapshot{SavedAt: time.Now().UTC(), Identities: identities})
	if err != nil {
		return fmt.Errorf("encode identities: %w", err)
	}
	if err := s.client.Set(ctx, s.key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
