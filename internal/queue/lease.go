package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const leasePoll = time.Second

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Leases is a Redis lock per registration. Only the holder uploads that
// registration's documents.
type Leases struct {
	rdb  *redis.Client
	ttl  time.Duration
	poll time.Duration
}

// NewLeases builds Leases that expire shortly after the upload task timeout.
func NewLeases(rdb *redis.Client) *Leases {
	return &Leases{rdb: rdb, ttl: uploadTimeout + time.Minute, poll: leasePoll}
}

func leaseKey(registrationID string) string {
	return "onboard:uploads:" + registrationID
}

// Lock waits until the registration's lease is free and takes it. The
// returned func releases it only if it is still ours.
func (l *Leases) Lock(ctx context.Context, registrationID string) (func() error, error) {
	key := leaseKey(registrationID)
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("take upload lease: %w", err)
		}
		if ok {
			return func() error {
				if err := releaseScript.Run(context.WithoutCancel(ctx), l.rdb, []string{key}, token).Err(); err != nil {
					return fmt.Errorf("release upload lease: %w", err)
				}
				return nil
			}, nil
		}
		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
