package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker shares room locks between engine instances.
// Keys expire after TTL so a crashed holder cannot wedge a room.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Poll   time.Duration
}

func NewRedisLocker(addr string) *RedisLocker {
	return &RedisLocker{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Prefix: "innkeep:room-lock:",
		TTL:    30 * time.Second,
		Poll:   25 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, roomID string) (func(), error) {
	key := l.Prefix + roomID
	token := uuid.NewString()
	poll := l.Poll
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}
	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeoutErr(ctx)
			}
			return nil, fmt.Errorf("acquire room lock %s: %w", roomID, err)
		}
		if ok {
			return func() {
				// release must run even when the caller's ctx is already done
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.Client, []string{key}, token).Err()
			}, nil
		}
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, timeoutErr(ctx)
		case <-t.C:
		}
	}
}

// Ping checks connectivity at startup.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.Client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.Client.Close()
}
