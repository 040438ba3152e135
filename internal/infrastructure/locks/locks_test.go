package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalLocker_Exclusive(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		holders int32
		maxSeen int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "oft:send:a:1", time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&holders, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, l.slots)
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a", time.Second)
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(ctx, "b", time.Second)
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "k", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Empty(t, l.slots)
}

// fakeRedis implements cache.RedisClient over a map
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{keys: make(map[string]string)} }

func (f *fakeRedis) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (f *fakeRedis) Get(context.Context, string, interface{}) error                { return nil }
func (f *fakeRedis) Ping(context.Context) error                                    { return nil }
func (f *fakeRedis) Close() error                                                  { return nil }
func (f *fakeRedis) Client() *redis.Client                                         { return nil }

func (f *fakeRedis) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeRedis) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = value
	return true, nil
}

func (f *fakeRedis) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] != value {
		return false, nil
	}
	delete(f.keys, key)
	return true, nil
}

func TestRedisLocker(t *testing.T) {
	client := newFakeRedis()
	l := NewRedisLocker(client, "lock:", zap.NewNop())
	l.retryWait = time.Millisecond

	unlock, err := l.Lock(context.Background(), "k", time.Second)
	require.NoError(t, err)
	assert.Contains(t, client.keys, "lock:k")

	t.Run("second holder times out", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := l.Lock(ctx, "k", time.Second)
		assert.ErrorIs(t, err, ErrLockTimeout)
	})

	t.Run("expired lock is not released by old holder", func(t *testing.T) {
		client.mu.Lock()
		client.keys["lock:k"] = "someone-else"
		client.mu.Unlock()

		unlock()
		assert.Equal(t, "someone-else", client.keys["lock:k"])
		require.NoError(t, client.Del(context.Background(), "lock:k"))
	})

	t.Run("released lock can be retaken", func(t *testing.T) {
		unlock, err := l.Lock(context.Background(), "k", time.Second)
		require.NoError(t, err)
		unlock()
		assert.NotContains(t, client.keys, "lock:k")
	})
}
