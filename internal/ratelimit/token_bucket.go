package ratelimit

import (
	"sync"
	"time"
)

// nanoPerToken is the fixed-point scale: a rate of X tokens/sec adds exactly
// X nano-tokens per elapsed nanosecond, so refills never round.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket caps how many signaling frames one websocket connection may
// send. It starts full, refills continuously at fillRate tokens/sec up to
// capacity, and reads time from a Clock so tests can drive it.
//
// A nil *TokenBucket admits everything.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	fillRate int64 // tokens/sec == nano-tokens/ns

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. Negative arguments are treated as 0;
// a zero capacity or rate yields a bucket that never refills.
func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toNano(capacityTokens)
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  max(fillRate, 0),
		available: capacity,
		last:      clock.Now(),
	}
}

// PerSecond returns a bucket that admits ratePerSec events per second with a
// burst of the same size. A non-positive rate disables limiting and returns
// nil.
func PerSecond(clock Clock, ratePerSec int64) *TokenBucket {
	if ratePerSec <= 0 {
		return nil
	}
	return NewTokenBucket(clock, ratePerSec, ratePerSec)
}

// Allow takes tokens from the bucket if enough are available and reports
// whether it did. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if b == nil || tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	// A clock that steps backwards only moves the reference point.
	b.last = now
	if elapsed <= 0 || b.fillRate == 0 || b.available >= b.capacity {
		return
	}

	need := b.capacity - b.available
	// Compare against the time needed to fill before multiplying so
	// elapsed*fillRate cannot overflow.
	if elapsed >= need/b.fillRate {
		b.available = b.capacity
		return
	}
	b.available = min(b.available+elapsed*b.fillRate, b.capacity)
}

func toNano(tokens int64) int64 {
	switch {
	case tokens <= 0:
		return 0
	case tokens > maxInt64/nanoPerToken:
		return maxInt64
	default:
		return tokens * nanoPerToken
	}
}
