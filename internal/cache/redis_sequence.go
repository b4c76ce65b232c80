package cache

import (
	"context"
	"fmt"

	"example.com/tweetapp/internal/store"
	"github.com/redis/go-redis/v9"
)

const sequenceKeyPrefix = "seq:"

// raises KEYS[1] to ARGV[1] unless it is already at or above it
const raiseScript = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local floor = tonumber(ARGV[1])
if cur < floor then
	redis.call('SET', KEYS[1], floor)
	return floor
end
return cur`

// RedisSequence issues ids with INCR, which is atomic on the server.
type RedisSequence struct {
	client redis.Cmdable
}

func NewRedisSequence(addr, password string, db int) *RedisSequence {
	return &RedisSequence{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewRedisSequenceFromClient wraps an existing client, e.g. a cluster client.
func NewRedisSequenceFromClient(client redis.Cmdable) *RedisSequence {
	return &RedisSequence{client: client}
}

func (r *RedisSequence) Connect(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisSequence) NextSequence(ctx context.Context, name string) (int64, error) {
	id, err := r.client.Incr(ctx, sequenceKeyPrefix+name).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", name, err)
	}
	return id, nil
}

// SeedFrom moves each named counter up to the value src hands out next, so
// ids issued from Redis never reuse ids already taken from src. The value
// drawn from src is skipped.
func (r *RedisSequence) SeedFrom(ctx context.Context, src store.SequenceGenerator, names ...string) error {
	for _, name := range names {
		floor, err := src.NextSequence(ctx, name)
		if err != nil {
			return fmt.Errorf("read sequence %s: %w", name, err)
		}
		if err := r.client.Eval(ctx, raiseScript, []string{sequenceKeyPrefix + name}, floor).Err(); err != nil {
			return fmt.Errorf("seed sequence %s: %w", name, err)
		}
	}
	return nil
}

func (r *RedisSequence) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
