package diffusion

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"storysmith/pkg/flight"
)

// Cached coalesces identical in-flight requests and serves repeated ones
// from memory until the TTL passes.
type Cached struct {
	cache *flight.Cache[Request, []byte]
}

func NewCached(g Generator, ttl time.Duration) *Cached {
	c := flight.NewCache(func(ctx context.Context, req Request) ([]byte, error) {
		return g.Generate(ctx, req)
	})
	c.Expiry(ttl)
	return &Cached{cache: c}
}

func (c *Cached) Generate(ctx context.Context, req Request) ([]byte, error) {
	img, err := c.cache.Get(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Debug("image ready", "bytes", len(img), "cached", c.cache.Len())
	return img, nil
}
