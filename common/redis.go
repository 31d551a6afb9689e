package common

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/logger"
)

// RDB is the shared redis client; nil when redis is disabled.
var RDB redis.Cmdable

// RedisEnabled reports whether a redis backend is configured and reachable.
var RedisEnabled = false

// InitRedisClient connects to redis when REDIS_CONN_STRING is set. Rate
// limits and lookup caches degrade to in-process stores without it.
func InitRedisClient() error {
	if config.RedisConnString == "" {
		logger.Logger.Info("REDIS_CONN_STRING not set, redis is not enabled")
		return nil
	}

	opt, err := redis.ParseURL(config.RedisConnString)
	if err != nil {
		return errors.Wrap(err, "parse redis connection string")
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}

	RDB = client
	RedisEnabled = true
	logger.Logger.Info("redis connected", zap.String("addr", opt.Addr))
	return nil
}

// RedisKey prefixes a key with the configured namespace.
func RedisKey(parts ...string) string {
	key := config.RedisKeyPrefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// RedisSet stores a string value with a TTL.
func RedisSet(ctx context.Context, key string, value string, expiration time.Duration) error {
	if !RedisEnabled {
		return errors.New("redis is not enabled")
	}
	return errors.Wrap(RDB.Set(ctx, key, value, expiration).Err(), "redis set")
}

// RedisGet fetches a string value; redis.Nil is returned untouched so
// callers can distinguish a miss.
func RedisGet(ctx context.Context, key string) (string, error) {
	if !RedisEnabled {
		return "", errors.New("redis is not enabled")
	}
	return RDB.Get(ctx, key).Result()
}

// RedisDel removes keys.
func RedisDel(ctx context.Context, keys ...string) error {
	if !RedisEnabled {
		return errors.New("redis is not enabled")
	}
	return errors.Wrap(RDB.Del(ctx, keys...).Err(), "redis del")
}
