package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/retailstream/concierge/runtime/chat/admission"
)

// fakeClient backs SetNX/Eval with a plain map, mirroring the NX and
// compare-and-delete semantics the guard relies on.
type fakeClient struct {
	values map[string]string

	setNXErr error
	evalErr  error
	evals    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: make(map[string]string)}
}

func (f *fakeClient) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if f.setNXErr != nil {
		cmd := redis.NewBoolResult(false, f.setNXErr)
		return cmd
	}
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.evals++
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "redis client is required")
}

func TestAcquireConflict(t *testing.T) {
	client := newFakeClient()
	g, err := New(Options{Client: client})
	require.NoError(t, err)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "conv-1")
	require.NoError(t, err)

	_, err = g.Acquire(ctx, "conv-1")
	require.ErrorIs(t, err, admission.ErrTurnActive)

	// Other conversations are unaffected.
	other, err := g.Acquire(ctx, "conv-2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))

	release, err = g.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestReleaseIsIdempotent(t *testing.T) {
	client := newFakeClient()
	g, err := New(Options{Client: client})
	require.NoError(t, err)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "conv-1")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))
	require.Equal(t, 1, client.evals)
}

func TestReleaseOnlyDeletesOwnToken(t *testing.T) {
	client := newFakeClient()
	g, err := New(Options{Client: client})
	require.NoError(t, err)
	ctx := context.Background()

	release, err := g.Acquire(ctx, "conv-1")
	require.NoError(t, err)

	// Simulate TTL expiry followed by another instance's acquisition.
	client.values[keyPrefix+"conv-1"] = "someone-else"
	require.NoError(t, release(ctx))
	require.Equal(t, "someone-else", client.values[keyPrefix+"conv-1"])
}

func TestAcquireRedisDown(t *testing.T) {
	client := newFakeClient()
	client.setNXErr = errors.New("connection refused")
	g, err := New(Options{Client: client})
	require.NoError(t, err)

	_, err = g.Acquire(context.Background(), "conv-1")
	require.ErrorContains(t, err, "acquire turn slot")
	require.NotErrorIs(t, err, admission.ErrTurnActive)
}
