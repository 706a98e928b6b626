package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so a lock
// that expired and was taken by another process is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL caps how long a crashed holder can block the job.
	TTL time.Duration
}

// Redis is a Locker backed by SET NX with an expiry.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis lock: missing address")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "pursue:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		rdb:    rdb,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger.With("component", "lock"),
	}, nil
}

func (r *Redis) TryLock(ctx context.Context, name string) (func(), bool, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
			r.logger.Error("release lock", "name", name, "error", err)
		}
	}, true, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
