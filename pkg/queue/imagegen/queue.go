// Package imagegen queues image generation so only one request reaches the
// backend at a time.
package imagegen

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"storysmith/pkg/diffusion"
	"storysmith/pkg/queue"
	"storysmith/pkg/utils"
)

type Queue struct {
	gen   diffusion.Generator
	items chan *Item
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

type Item struct {
	ctx      context.Context
	Request  diffusion.Request
	Response chan []byte
	Error    chan error
}

func (i *Item) fail(err error) {
	i.Error <- err
	close(i.Response)
}

func (i *Item) succeed(img []byte) {
	i.Response <- img
	close(i.Error)
}

func New(gen diffusion.Generator, size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		gen:   gen,
		items: make(chan *Item, size),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	go q.processLoop()
}

// Stop waits for the item in progress and fails everything still queued
// with queue.ErrStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stop)
	started := q.started
	q.mu.Unlock()

	if started {
		<-q.done
	}
	for {
		select {
		case item := <-q.items:
			item.fail(queue.ErrStopped)
		default:
			return
		}
	}
}

func (q *Queue) Add(ctx context.Context, req diffusion.Request) (<-chan []byte, <-chan error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return nil, nil, queue.ErrStopped
	}

	item := &Item{
		ctx:      ctx,
		Request:  req,
		Response: make(chan []byte, 1),
		Error:    make(chan error, 1),
	}
	select {
	case q.items <- item:
		return item.Response, item.Error, nil
	default:
		return nil, nil, queue.ErrQueueFull
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) processLoop() {
	defer close(q.done)
	log.Info("image queue started")
	for {
		select {
		case <-q.stop:
			log.Info("image queue stopped")
			return
		case item := <-q.items:
			q.processItem(item)
		}
	}
}

func (q *Queue) processItem(item *Item) {
	if err := item.ctx.Err(); err != nil {
		item.fail(err)
		return
	}

	log.Info("processing image", "prompt", utils.LimitStr(item.Request.Prompt, 50), "waiting", len(q.items))
	img, err := q.gen.Generate(item.ctx, item.Request)
	if err != nil {
		log.Error("image generation failed", "error", err)
		item.fail(err)
		return
	}
	item.succeed(img)
}
