package bookmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "castellan:bookmark:"

// RedisStore keeps bookmarks in redis so multiple collector replicas can
// share channel positions.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to redis and verifies connectivity with a ping.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	return &RedisStore{rdb: rdb}, nil
}

// Load returns the bookmark for channel, or (nil, nil) when none exists.
func (s *RedisStore) Load(ctx context.Context, channel string) (*Bookmark, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+channel).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bookmark for %s: %w", channel, err)
	}
	return decodeBookmark(data)
}

// Save writes the bookmark with no expiry.
func (s *RedisStore) Save(ctx context.Context, bm *Bookmark) error {
	enc, err := encodeBookmark(bm)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+bm.Channel, enc, 0).Err(); err != nil {
		return fmt.Errorf("save bookmark for %s: %w", bm.Channel, err)
	}
	return nil
}

// Close shuts down the underlying redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
