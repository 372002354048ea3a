package store

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"speechflow/internal/services"
)

const defaultRedisPrefix = "speechflow"

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each collection in one hash named <prefix>:<collection>.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// OpenRedis connects to redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "store", "open redis", "storage.redis_addr is required", nil)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storageError("ping", "redis", opts.Addr, err)
	}
	return NewRedisStore(client, opts.Prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hash(collection string) string {
	return s.prefix + ":" + collection
}

// Get returns the value stored under collection/key.
func (s *RedisStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	value, err := s.client.HGet(ensureContext(ctx), s.hash(collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, services.Wrap(ErrNotFound, "store", "get", collection+"/"+key, nil)
	}
	if err != nil {
		return nil, storageError("get", collection, key, err)
	}
	return value, nil
}

// GetAll returns every record of a collection ordered by key.
func (s *RedisStore) GetAll(ctx context.Context, collection string) ([]Record, error) {
	values, err := s.client.HGetAll(ensureContext(ctx), s.hash(collection)).Result()
	if err != nil {
		return nil, storageError("get all", collection, "", err)
	}
	records := make([]Record, 0, len(values))
	for key, value := range values {
		records = append(records, Record{Key: key, Value: []byte(value)})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// Save inserts or replaces collection/key.
func (s *RedisStore) Save(ctx context.Context, collection, key string, value []byte) error {
	if err := s.client.HSet(ensureContext(ctx), s.hash(collection), key, value).Err(); err != nil {
		return storageError("save", collection, key, err)
	}
	return nil
}

// Remove deletes collection/key.
func (s *RedisStore) Remove(ctx context.Context, collection, key string) error {
	if err := s.client.HDel(ensureContext(ctx), s.hash(collection), key).Err(); err != nil {
		return storageError("remove", collection, key, err)
	}
	return nil
}

// Clear deletes the collection hash.
func (s *RedisStore) Clear(ctx context.Context, collection string) error {
	if err := s.client.Del(ensureContext(ctx), s.hash(collection)).Err(); err != nil {
		return storageError("clear", collection, "", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
