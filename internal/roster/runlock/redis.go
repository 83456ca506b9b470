package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/roster/pkg/idx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica pointed at the same server.
// Leases expire after TTL so a crashed holder cannot wedge the key.
type Redis struct {
	Client redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

// NewRedis parses url and pings the server.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Redis{Client: client, Prefix: "roster:runlock:", TTL: ttl}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := idx.New().String()
	full := r.Prefix + key

	ok, err := r.Client.SetNX(ctx, full, token, r.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("runlock acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func() {
		// The caller's ctx may already be done by the time the run ends.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, r.Client, []string{full}, token).Err(); err != nil {
			slogx.FromContext(ctx).Warn("failed to release run lock", "key", key, "error", err)
		}
	}, nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
