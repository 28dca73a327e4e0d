package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

// RedisOption customises the RedisStore behaviour.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the namespace used for Redis keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(store *RedisStore) {
		if prefix != "" {
			store.prefix = prefix
		}
	}
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore implements Store on Redis. Expiry is delegated to key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.ID()
}

func (s *RedisStore) Reserve(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	record := pendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	rk := s.redisKey(key)
	created, err := s.client.SetNX(ctx, rk, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: redis setnx: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	existing, err := s.load(ctx, s.client, rk)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the caller may simply retry.
		return Reservation{State: ReservationStatePending, Record: record}, nil
	}
	if err != nil {
		return Reservation{}, err
	}
	return classify(existing, fingerprint)
}

func (s *RedisStore) Complete(ctx context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	rk := s.redisKey(key)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, err := s.load(ctx, tx, rk)
		switch {
		case errors.Is(err, redis.Nil):
			record = pendingRecord(key, fingerprint, now, ttl)
		case err != nil:
			return err
		case record.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}

		payload, err := json.Marshal(completeRecord(record, resp, now, ttl))
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, payload, ttl)
			return nil
		})
		return err
	}, rk)
}

func (s *RedisStore) Release(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: redis del: %w", err)
	}
	return nil
}

// Purge is a no-op because Redis expires records on its own.
func (s *RedisStore) Purge(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, client stringGetter, rk string) (Record, error) {
	data, err := client.Get(ctx, rk).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("idempotency: redis get: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
