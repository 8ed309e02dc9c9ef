package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// userLimiter applies a per-user request rate with a small burst.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
}

// newUserLimiter creates a limiter allowing rpm requests per minute per
// user. rpm <= 0 disables limiting.
func newUserLimiter(rpm int) *userLimiter {
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		rpm:      rpm,
	}
}

// Allow reports whether the user may make another request now.
func (l *userLimiter) Allow(userID string) bool {
	if l.rpm <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.rpm/6+1)
		l.limiters[userID] = lim
	}
	return lim.Allow()
}
