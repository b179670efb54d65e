package signal

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/nkoval/parlor/internal/core"
)

// messageLimiter caps inbound chat messages per connection. Entries are
// dropped on disconnect, so no background cleanup is needed.
type messageLimiter struct {
	mu    sync.Mutex
	conns map[core.ConnID]*rate.Limiter
	limit rate.Limit
	burst int
}

func newMessageLimiter(rps float64, burst int) *messageLimiter {
	return &messageLimiter{
		conns: make(map[core.ConnID]*rate.Limiter),
		limit: rate.Limit(rps),
		burst: burst,
	}
}

func (l *messageLimiter) Allow(cid core.ConnID) bool {
	l.mu.Lock()
	lim, ok := l.conns[cid]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.conns[cid] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *messageLimiter) Forget(cid core.ConnID) {
	l.mu.Lock()
	delete(l.conns, cid)
	l.mu.Unlock()
}
