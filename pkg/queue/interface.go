package queue

import (
	"context"
	"errors"

	"storysmith/pkg/diffusion"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrStopped   = errors.New("queue is stopped")
)

// Queue serialises image generation. Every accepted item receives exactly one
// value, on either its response channel or its error channel.
type Queue interface {
	Start()
	Stop()
	Add(ctx context.Context, req diffusion.Request) (<-chan []byte, <-chan error, error)
}

// Generator lets a Queue stand in for a diffusion.Generator.
type Generator struct {
	Queue Queue
}

func (g Generator) Generate(ctx context.Context, req diffusion.Request) ([]byte, error) {
	respCh, errCh, err := g.Queue.Add(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case img, ok := <-respCh:
		if ok {
			return img, nil
		}
		return nil, <-errCh
	case err, ok := <-errCh:
		if ok {
			return nil, err
		}
		return <-respCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
