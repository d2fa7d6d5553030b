package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another holder owns the key.
var ErrLeaseHeld = errors.New("platform/cache: lease held elsewhere")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leaser hands out short-lived exclusive leases backed by Redis SET NX.
type Leaser struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewLeaser constructs a Leaser. A nil client yields leases that always succeed.
func NewLeaser(client redis.UniversalClient, ttl time.Duration) *Leaser {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Leaser{client: client, ttl: ttl}
}

// Lease is an acquired key; Release is safe to call more than once.
type Lease struct {
	key    string
	token  string
	client redis.UniversalClient
}

// Acquire takes the lease for key or returns ErrLeaseHeld.
func (l *Leaser) Acquire(ctx context.Context, key string) (*Lease, error) {
	if l == nil || l.client == nil {
		return &Lease{key: key}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &Lease{key: key, token: token, client: l.client}, nil
}

// Release drops the lease if this holder still owns it.
func (lease *Lease) Release(ctx context.Context) error {
	if lease == nil || lease.client == nil || lease.token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, lease.client, []string{lease.key}, lease.token).Err()
	lease.token = ""
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("platform/cache: release %s: %w", lease.key, err)
	}
	return nil
}
