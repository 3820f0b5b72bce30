package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liliang-cn/veilchat/internal/domain"
)

// RateLimiter enforces a per-user request rate. It is an explicitly
// constructed component owned by the composition root, not process-global
// state. Idle entries are swept periodically.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*userLimiter
	limit    rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter allowing requestsPerMinute per user
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 20
	}

	l := &RateLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
		stop:     make(chan struct{}),
	}

	go l.sweep()
	return l
}

// Allow checks the rate limit for a user and returns ErrRateLimited on
// violation
func (l *RateLimiter) Allow(userID string) error {
	l.mu.Lock()
	entry, ok := l.limiters[userID]
	if !ok {
		entry = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	if !entry.limiter.Allow() {
		return domain.ErrRateLimited
	}
	return nil
}

// Close stops the background sweep
func (l *RateLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *RateLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for userID, entry := range l.limiters {
				if now.Sub(entry.lastSeen) > 3*time.Minute {
					delete(l.limiters, userID)
				}
			}
			l.mu.Unlock()
		}
	}
}
