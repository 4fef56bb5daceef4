package infrastructure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MessageRateLimiter implements token bucket rate limiting per channel
type MessageRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*channelLimiter
	rate     rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
	once     sync.Once
}

type channelLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMessageRateLimiter creates a limiter allowing perSecond sends per
// channel with the given burst. Buckets idle for 10 minutes are dropped.
func NewMessageRateLimiter(perSecond float64, burst int) *MessageRateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &MessageRateLimiter{
		limiters: make(map[string]*channelLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		stop:     make(chan struct{}),
	}
	go rl.cleanup(5 * time.Minute)
	return rl
}

// Allow consumes one token for channelID if available
func (rl *MessageRateLimiter) Allow(channelID string) bool {
	rl.mu.Lock()
	cl, ok := rl.limiters[channelID]
	if !ok {
		cl = &channelLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[channelID] = cl
	}
	cl.lastSeen = time.Now()
	rl.mu.Unlock()
	return cl.limiter.Allow()
}

func (rl *MessageRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *MessageRateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for id, cl := range rl.limiters {
				if now.Sub(cl.lastSeen) > rl.idle {
					delete(rl.limiters, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}
