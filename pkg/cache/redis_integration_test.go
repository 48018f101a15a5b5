package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aegisops/aegis/pkg/cache"
)

// newTestAdapter spins up a disposable Redis container, the same
// testcontainers pattern used for Postgres.
func newTestAdapter(t *testing.T) *cache.Adapter {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	return cache.New(redis.NewClient(&redis.Options{Addr: endpoint}))
}

func TestCacheSetGetDeleteRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k1", []byte("v1"), time.Minute))
	val, err := a.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)

	require.NoError(t, a.Delete(ctx, "k1"))
	val, err = a.Get(ctx, "k1")
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestRateLimiterDeniesBeyondLimit(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := a.Allow(ctx, "user-1", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := a.Allow(ctx, "user-1", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDistributedLockExcludesSecondHolder(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	release, err := a.Lock(ctx, "case-1", 5*time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		secondRelease, err := a.Lock(ctx, "case-1", 5*time.Second)
		require.NoError(t, err)
		close(acquired)
		_ = secondRelease(context.Background())
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired before first released")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, release(ctx))
	<-acquired
}
