package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const localSweepInterval = time.Minute

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	idleTTL  time.Duration
}

// LocalBuckets keeps one in-process token bucket per key. It backs the
// limiter when no Redis is configured, so limits are per replica. Buckets
// idle for longer than it takes them to refill are dropped, the same expiry
// the Redis buckets get.
type LocalBuckets struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
	now       func() time.Time
}

func NewLocalBuckets() *LocalBuckets {
	return &LocalBuckets{buckets: make(map[string]*localBucket), now: time.Now}
}

func (b *LocalBuckets) Allow(key string, r float64, burst int) (*RateLimitResult, error) {
	if err := validate(key, r, burst); err != nil {
		return &RateLimitResult{Allowed: false}, err
	}

	now := b.now()
	b.mu.Lock()
	b.sweep(now)
	bucket, ok := b.buckets[key]
	if !ok {
		bucket = &localBucket{
			limiter: rate.NewLimiter(rate.Limit(r), burst),
			idleTTL: defaultBucketTTL(r, burst),
		}
		b.buckets[key] = bucket
	}
	bucket.lastSeen = now
	limiter := bucket.limiter
	b.mu.Unlock()

	allowed := limiter.AllowN(now, 1)
	remaining := limiter.TokensAt(now)
	return &RateLimitResult{
		Allowed:    allowed,
		Limit:      burst,
		Remaining:  int(remaining),
		RetryAfter: retryAfter(allowed, remaining, r),
	}, nil
}

// sweep runs under b.mu.
func (b *LocalBuckets) sweep(now time.Time) {
	if now.Sub(b.lastSweep) < localSweepInterval {
		return
	}
	b.lastSweep = now
	for key, bucket := range b.buckets {
		if now.Sub(bucket.lastSeen) >= bucket.idleTTL {
			delete(b.buckets, key)
		}
	}
}

func (b *LocalBuckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}
