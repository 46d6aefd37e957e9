package pipeline

import (
	"context"
	"time"

	"salesetl/pkg/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards the fact rebuild against concurrent runs.
type Locker interface {
	// Acquire reports ok=false without error when another run holds the lock.
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// LockClient is the subset of redis.Cmdable the lock needs.
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLock is a single-key SET NX PX lock. Release only deletes the key
// while it still holds this holder's token.
type RedisLock struct {
	client LockClient
	key    string
	ttl    time.Duration
}

func NewRedisLock(client LockClient, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = "salesetl:run-lock"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.ConnectionError("Failed to connect to redis", err).WithContext("addr", addr)
	}
	return client, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.ErrCodeRunLocked, "Failed to acquire run lock").
			WithContext("key", l.key)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{l.key}, token).Int64()
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeRunLocked, "Failed to release run lock").
				WithContext("key", l.key)
		}
		if n == 0 {
			return errors.New(errors.ErrCodeRunLocked, "run lock expired before release").
				WithSeverity(errors.SeverityWarning).
				WithContext("key", l.key).
				WithSuggestions("Increase lock.ttl above the longest expected run")
		}
		return nil
	}
	return release, true, nil
}
