package imagegen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storysmith/pkg/diffusion"
	"storysmith/pkg/queue"
)

type blockingGenerator struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	err     error
}

func (g *blockingGenerator) Generate(ctx context.Context, req diffusion.Request) ([]byte, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return []byte(req.Prompt), nil
}

func TestQueueProcessesOneAtATime(t *testing.T) {
	gen := &blockingGenerator{release: make(chan struct{})}
	q := New(gen, 10)
	q.Start()
	defer q.Stop()

	var wg sync.WaitGroup
	for _, p := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := queue.Generator{Queue: q}.Generate(context.Background(), diffusion.Request{Prompt: p})
			assert.NoError(t, err)
			assert.Equal(t, p, string(img))
		}()
	}

	for range 3 {
		gen.release <- struct{}{}
	}
	wg.Wait()
	assert.EqualValues(t, 1, gen.peak.Load())
}

func TestQueueFull(t *testing.T) {
	q := New(&blockingGenerator{}, 1)
	_, _, err := q.Add(context.Background(), diffusion.Request{Prompt: "a"})
	require.NoError(t, err)
	_, _, err = q.Add(context.Background(), diffusion.Request{Prompt: "b"})
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	q.Stop()
}

func TestStopFailsQueuedItems(t *testing.T) {
	q := New(&blockingGenerator{}, 5)
	resp, errc, err := q.Add(context.Background(), diffusion.Request{Prompt: "a"})
	require.NoError(t, err)

	q.Stop()
	assert.ErrorIs(t, <-errc, queue.ErrStopped)
	_, ok := <-resp
	assert.False(t, ok)

	_, _, err = q.Add(context.Background(), diffusion.Request{Prompt: "b"})
	assert.ErrorIs(t, err, queue.ErrStopped)

	q.Stop()
}

func TestGeneratorPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	q := New(&blockingGenerator{err: boom}, 5)
	q.Start()
	defer q.Stop()

	_, err := queue.Generator{Queue: q}.Generate(context.Background(), diffusion.Request{Prompt: "a"})
	assert.ErrorIs(t, err, boom)
}

func TestGeneratorHonoursContext(t *testing.T) {
	gen := &blockingGenerator{release: make(chan struct{})}
	q := New(gen, 5)
	q.Start()
	defer q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := queue.Generator{Queue: q}.Generate(ctx, diffusion.Request{Prompt: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCancelledItemIsSkipped(t *testing.T) {
	gen := &blockingGenerator{}
	q := New(gen, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, errc, err := q.Add(ctx, diffusion.Request{Prompt: "a"})
	require.NoError(t, err)
	q.Start()
	defer q.Stop()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.EqualValues(t, 0, gen.peak.Load())
}

func TestQueueLenCountsWaiting(t *testing.T) {
	q := New(&blockingGenerator{}, 4)
	assert.Equal(t, 0, q.Len())

	for _, p := range []string{"a", "b"} {
		_, _, err := q.Add(context.Background(), diffusion.Request{Prompt: p})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, q.Len())
}
