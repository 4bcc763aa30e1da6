package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCoalescesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewCache(func(_ context.Context, k string) (string, error) {
		calls.Add(1)
		<-release
		return "v:" + k, nil
	})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "a")
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending) == 1
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		assert.Equal(t, "v:a", v)
	}

	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "v:a", v)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(func(context.Context, int) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("boom")
		}
		return 42, nil
	})

	_, err := c.Get(context.Background(), 1)
	assert.EqualError(t, err, "boom")

	v, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFollowerHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := NewCache(func(context.Context, string) (string, error) {
		<-release
		return "late", nil
	})

	go func() { _, _ = c.Get(context.Background(), "k") }()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.pending) == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpiryDropsStrongReference(t *testing.T) {
	c := NewCache(func(context.Context, string) ([]byte, error) {
		return make([]byte, 16), nil
	})
	c.Expiry(time.Nanosecond)
	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	c.mu.Lock()
	_, _ = c.lookup("k")
	e := c.finished["k"]
	c.mu.Unlock()
	if e != nil {
		assert.Nil(t, e.strong)
	}
}
