package relay

import (
	"sync"
	"time"
)

// rateLimiter throttles inbound frames per connection so a single chatty
// client cannot monopolize the fan-out path. The bucket holds whole tokens:
// one is spent per frame and one grows back every perToken interval, up to
// the configured burst.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	perToken   time.Duration
	lastRefill time.Time
}

func newRateLimiter(burst int, refill time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	perToken := refill / time.Duration(burst)
	if perToken <= 0 {
		perToken = 1
	}
	return &rateLimiter{
		tokens:     burst,
		capacity:   burst,
		perToken:   perToken,
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if grown := int(now.Sub(rl.lastRefill) / rl.perToken); grown > 0 {
		rl.tokens = min(rl.tokens+grown, rl.capacity)
		// Advance by the tokens actually credited so the fractional remainder
		// keeps accruing toward the next one.
		rl.lastRefill = rl.lastRefill.Add(time.Duration(grown) * rl.perToken)
		if rl.tokens == rl.capacity {
			rl.lastRefill = now
		}
	}

	if rl.tokens == 0 {
		return false
	}
	rl.tokens--
	return true
}
