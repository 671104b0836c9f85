package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores every key as a plain Redis string under a namespace
// prefix. Commits go through MULTI/EXEC so a transaction lands whole or not
// at all.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Apply commits writes with WATCH/MULTI/EXEC. The read set is watched and
// compared first, so a concurrent writer on any of those keys, in this
// process or another, turns the commit into ErrConflict.
func (b *RedisBackend) Apply(ctx context.Context, reads []Read, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	keys := make([]string, len(reads))
	for i, r := range reads {
		keys[i] = b.prefix + r.Key
	}
	err := b.rdb.Watch(ctx, func(rtx *redis.Tx) error {
		if len(keys) > 0 {
			current, err := rtx.MGet(ctx, keys...).Result()
			if err != nil {
				return err
			}
			for i, v := range current {
				if !matches(reads[i], v) {
					return ErrConflict
				}
			}
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				if w.Delete {
					pipe.Del(ctx, b.prefix+w.Key)
					continue
				}
				pipe.Set(ctx, b.prefix+w.Key, w.Value, 0)
			}
			return nil
		})
		return err
	}, keys...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	default:
		return fmt.Errorf("redis apply: %w", err)
	}
}

// matches compares an MGET result with what the transaction read.
func matches(r Read, v any) bool {
	if v == nil {
		return !r.Exists
	}
	s, ok := v.(string)
	return ok && r.Exists && s == string(r.Value)
}

// Scan returns every key under prefix with the namespace stripped.
func (b *RedisBackend) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := b.rdb.Scan(ctx, cursor, b.prefix+prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
		}
		for _, k := range batch {
			keys = append(keys, k[len(b.prefix):])
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}
