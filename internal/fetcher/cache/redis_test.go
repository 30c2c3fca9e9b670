package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
	down    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	val, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	if f.down != nil {
		return redis.NewStatusResult("", f.down)
	}
	return redis.NewStatusResult("PONG", nil)
}

func TestRedisCachePing(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	c := newWithClient(fake, time.Minute)
	require.NoError(t, c.Ping(context.Background()))

	fake.down = errors.New("connection refused")
	require.ErrorContains(t, c.Ping(context.Background()), "connection refused")
}

func TestRedisCacheRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	c := newWithClient(fake, time.Hour)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "https://genius.com/albums/a/b")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, "https://genius.com/albums/a/b", []byte("<html>album</html>")))
	require.Equal(t, time.Hour, fake.ttls[DefaultPrefix+"https://genius.com/albums/a/b"])

	body, ok, err := c.Get(ctx, "https://genius.com/albums/a/b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "<html>album</html>", string(body))
	require.NoError(t, c.Close())
}

func TestRedisCacheGetError(t *testing.T) {
	t.Parallel()

	fake := newFakeRedis()
	fake.failGet = errors.New("connection refused")
	c := newWithClient(fake, time.Minute)

	_, ok, err := c.Get(context.Background(), "x")
	require.Error(t, err)
	require.False(t, ok)
	require.ErrorContains(t, err, "connection refused")
}
