package processor

import (
	"context"
	"time"

	"github.com/cyberinferno/rediminute/cacher"
)

type cached struct {
	next  Processor
	cache cacher.Cacher[string]
	ttl   time.Duration
}

// Cached memoises next's responses per message for ttl. Only use it with
// processors whose output depends on nothing but the message. Errors from
// next are returned and not cached. If the cache backend fails, next still
// runs at most once per message: a response fetched before the backend
// failed is returned as is, otherwise the message is processed directly.
//
// Parameters:
//   - next: The processor whose responses are cached
//   - c: Cache backend
//   - ttl: Lifetime of a cached response
//
// Returns:
//   - A Processor wrapping next
func Cached(next Processor, c cacher.Cacher[string], ttl time.Duration) Processor {
	return &cached{next: next, cache: c, ttl: ttl}
}

// Process implements Processor.
func (p *cached) Process(ctx context.Context, message string) (string, error) {
	var (
		fetched string
		ran     bool
		procErr error
	)

	resp, err := p.cache.GetOrFetch(ctx, message, p.ttl, func(ctx context.Context) (string, error) {
		ran = true
		fetched, procErr = p.next.Process(ctx, message)
		return fetched, procErr
	})
	switch {
	case err == nil:
		return resp, nil
	case procErr != nil:
		return "", procErr
	case ran:
		// processed, only storing the response failed
		return fetched, nil
	}

	return p.next.Process(ctx, message)
}
