package linking

import (
	"sync"

	"golang.org/x/time/rate"
)

// userLimiter bounds token issuance per user. Rate limiting is a local
// courtesy, not a correctness mechanism, so per-process state is fine.
type userLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	users map[int64]*rate.Limiter
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		perMinute = 3
	}
	return &userLimiter{
		limit: rate.Limit(float64(perMinute) / 60.0),
		burst: perMinute,
		users: make(map[int64]*rate.Limiter),
	}
}

// Allow reports whether the user may request another token now.
func (l *userLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.users[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
