// Package ratelimit implements the per-connection token buckets of
// spec.md §4.4 on top of golang.org/x/time/rate, the teacher's own
// declared (if previously unused) rate-limiting dependency.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// MaxChunk is the largest number of bytes acquired from a bucket at once,
// per spec.md §4.4/§4.6.
const MaxChunk = 4096

// unlimited is used internally whenever rate_bytes_per_sec is zero, meaning
// "no limit" per spec.md.
const unlimited = rate.Inf

// Bucket is a single reconfigurable token bucket bounding bytes/sec with a
// burst cap. A zero Bucket (via New(0, 0)) never blocks.
type Bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	explicit bool // true once a caller has explicitly configured this bucket
}

// New returns a Bucket with the given average rate (bytes/sec) and burst
// (bytes). avg == 0 means unlimited.
func New(avg, burst int) *Bucket {
	b := &Bucket{}
	b.configure(avg, burst)
	return b
}

func (b *Bucket) configure(avg, burst int) {
	limit := unlimited
	if avg > 0 {
		limit = rate.Limit(avg)
	}
	if burst <= 0 {
		burst = MaxChunk
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limiter == nil {
		b.limiter = rate.NewLimiter(limit, burst)
		return
	}
	b.limiter.SetLimit(limit)
	b.limiter.SetBurst(burst)
}

// Reconfigure atomically replaces rate/burst. Takes effect on the bucket's
// next token acquisition, per spec.md §4.4.
func (b *Bucket) Reconfigure(avg, burst int) {
	b.configure(avg, burst)
	b.mu.Lock()
	b.explicit = true
	b.mu.Unlock()
}

// Explicit reports whether Reconfigure has ever been called on this bucket,
// i.e. whether it is authoritative over a later global-default change (see
// DESIGN.md's resolution of spec.md §9's global-vs-per-connection question).
func (b *Bucket) Explicit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.explicit
}

// Unlimited reports whether this bucket currently imposes no rate limit,
// used by the forwarder to decide whether the kernel-splice fast path may
// skip per-chunk token acquisition (spec.md §4.6).
func (b *Bucket) Unlimited() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limiter.Limit() == unlimited
}

// Acquire blocks (honoring ctx cancellation) until n bytes worth of tokens
// are available, where n must be <= MaxChunk.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	b.mu.Lock()
	l := b.limiter
	b.mu.Unlock()
	if l.Limit() == unlimited {
		return nil
	}
	return l.WaitN(ctx, n)
}
