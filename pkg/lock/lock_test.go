package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/lock"
)

func assertExclusive(t *testing.T, l types.BuildLock) {
	t.Helper()
	var (
		inside atomic.Int32
		peak   atomic.Int32
		wg     sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestLocal_Exclusive(t *testing.T) {
	assertExclusive(t, lock.NewLocal())
}

// held reports whether l stays taken for a short wait.
func held(t *testing.T, l types.BuildLock) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	unlock, err := l.Lock(ctx)
	if err != nil {
		require.ErrorIs(t, err, lock.ErrNotAcquired)
		return true
	}
	unlock()
	return false
}

func TestLocal_ContextCanceled(t *testing.T) {
	l := lock.NewLocal()
	unlock, err := l.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.True(t, held(t, l))

	unlock()
	unlock() // second call is a no-op

	assert.False(t, held(t, l))
}

func TestChain(t *testing.T) {
	a, b := lock.NewLocal(), lock.NewLocal()
	chain := lock.Chain{a, b}

	unlock, err := chain.Lock(context.Background())
	require.NoError(t, err)
	assert.True(t, held(t, a))
	assert.True(t, held(t, b))

	unlock()
	assert.False(t, held(t, a))

	release, err := b.Lock(context.Background())
	require.NoError(t, err)

	// b is held, so the chain gives up and releases a
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = chain.Lock(ctx)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	assert.False(t, held(t, a))
	release()
}

func TestRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping redis lock tests")
	}

	ctx := context.Background()
	client, err := lock.Connect(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	key := "becabot:test:lock:" + t.Name()
	l := lock.NewRedis(client, key, 3*time.Second, nil)

	assertExclusive(t, l)

	unlock, err := l.Lock(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = lock.NewRedis(client, key, time.Second, nil).Lock(short)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	unlock()
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
