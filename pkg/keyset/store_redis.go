package keyset

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// DefaultRedisKey is the key under which [RedisStore] keeps the snapshot.
const DefaultRedisKey = "authgate:keyset"

// RedisClient is the subset of the redis client used by [RedisStore]. It
// is satisfied by *redis.Client from pkg/clients/redis.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
}

// RedisStore keeps the snapshot as JSON in a single Redis key that
// expires together with the cache TTL.
type RedisStore struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

// NewRedisStore returns a store writing to key with the given expiry. An
// empty key selects [DefaultRedisKey].
func NewRedisStore(client RedisClient, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, ttl: ttl}
}

// Load reads and decodes the snapshot.
func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	val, err := s.client.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, err
	}
	snap, err := decodeSnapshot([]byte(val))
	if err != nil {
		return Snapshot{}, sserr.Wrap(err, sserr.CodeInternalDatabase, "keyset: corrupt snapshot in redis")
	}
	return snap, nil
}

// Save encodes and writes the snapshot.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "keyset: failed to encode snapshot")
	}
	return s.client.Set(ctx, s.key, string(data), s.ttl)
}
