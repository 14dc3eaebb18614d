// Package redis provides a Redis-backed admission guard for multi-instance
// deployments.
//
// Each conversation's turn slot is a key holding a random ownership token.
// Acquisition is a single SET NX with a TTL so a crashed instance can never
// wedge a conversation; release is a compare-and-delete script so a slot
// reclaimed after expiry is never deleted by its previous owner.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/retailstream/concierge/runtime/chat/admission"
)

const (
	keyPrefix  = "concierge:turn:"
	defaultTTL = 2 * time.Minute
)

// releaseScript deletes the slot only when the caller still owns it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

type (
	// Client captures the subset of the go-redis client the guard uses. It
	// is satisfied by *redis.Client and by *redis.ClusterClient.
	Client interface {
		SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
		Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	}

	// Options configures the guard.
	Options struct {
		// Client is the connected Redis client. Required.
		Client Client
		// TTL bounds how long a slot can stay held. Defaults to 2m.
		TTL time.Duration
	}

	// Guard implements admission.Guard on Redis.
	Guard struct {
		client Client
		ttl    time.Duration
	}
)

var _ admission.Guard = (*Guard)(nil)

// New builds a Guard from the provided options.
func New(opts Options) (*Guard, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{client: opts.Client, ttl: ttl}, nil
}

// Acquire claims the conversation's turn slot. The returned release function
// is idempotent and only deletes the slot while this acquisition still owns
// it.
func (g *Guard) Acquire(ctx context.Context, conversationID string) (func(context.Context) error, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	key := keyPrefix + conversationID
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire turn slot: %w", err)
	}
	if !ok {
		return nil, admission.ErrTurnActive
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			if err := g.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				rerr = fmt.Errorf("release turn slot: %w", err)
			}
		})
		return rerr
	}
	return release, nil
}
