package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
)

const (
	defaultRedisLockTTL   = 30 * time.Second
	defaultRedisLockRetry = 50 * time.Millisecond
	redisKeyPrefix        = "payment-gateway:lock:"
)

// Deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis holds keys across processes with SET NX plus a TTL. Within the
// process it also serializes through a Keyed lock so local waiters do not
// poll Redis.
type Redis struct {
	client redisClient
	local  *Keyed
	ttl    time.Duration
	retry  time.Duration
	logger logrus.FieldLogger
}

func NewRedis(client redisClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	return &Redis{
		client: client,
		local:  NewKeyed(),
		ttl:    ttl,
		retry:  defaultRedisLockRetry,
		logger: factory.NewModuleLogger("lock-redis"),
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := redisKeyPrefix + key
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ErrNotAcquired
		case <-time.After(r.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				r.logger.WithError(err).WithField("key", key).Warn("Failed to release redis lock")
			}
			unlockLocal()
		})
	}, nil
}
