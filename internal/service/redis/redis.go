package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb *redis.Client
	}

	Options struct {
		Addr     string
		Password string
		DB       int
	}
)

func NewRedis(rdb *redis.Client) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

// Connect dials redis and checks the connection.
func Connect(ctx context.Context, opts Options) (*RedisService, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedis(rdb), nil
}

func (r *RedisService) Close() error {
	return r.rdb.Close()
}

func (r *RedisService) RPush(ctx context.Context, key string, value ...any) error {
	return r.rdb.RPush(ctx, key, value...).Err()
}

// Drain reads and deletes a list in one transaction.
func (r *RedisService) Drain(ctx context.Context, key string) ([]string, error) {
	var lrange *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lrange.Val(), nil
}

func (r *RedisService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisService) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	return r.rdb.Get(ctx, key).Result()
}

func (r *RedisService) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ZAddNX adds member with score unless it is already in the set.
func (r *RedisService) ZAddNX(ctx context.Context, key string, score float64, member string) error {
	return r.rdb.ZAddNX(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRangeFrom returns members with score >= minScore, lowest score first.
func (r *RedisService) ZRangeFrom(ctx context.Context, key string, minScore float64) ([]redis.Z, error) {
	return r.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(minScore, 'f', -1, 64),
		Max: "+inf",
	}).Result()
}
