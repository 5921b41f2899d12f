package exchange

import "sync"

// marketLocks hands out one mutex per market. Entries are never removed;
// markets are never deleted either.
type marketLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newMarketLocks() *marketLocks {
	return &marketLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the market's mutex and returns its release.
func (l *marketLocks) lock(marketID string) func() {
	l.mu.Lock()
	mu, ok := l.m[marketID]
	if !ok {
		mu = &sync.Mutex{}
		l.m[marketID] = mu
	}
	l.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}
