package ledger

import (
	"context"
	"sync"
	"time"
)

type (
	// MemoryLedger is the single-node backend. The clock is injected so
	// expiry is testable without sleeping.
	MemoryLedger struct {
		mu      sync.Mutex
		entries map[string]time.Time
		now     func() time.Time
		lastGC  time.Time
	}
)

const gcInterval = time.Minute

func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		now:     now,
		lastGC:  now(),
	}
}

func (l *MemoryLedger) CheckAndRemember(_ context.Context, messageID string, ttl time.Duration) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > gcInterval {
		l.sweepLocked(now)
	}

	if exp, ok := l.entries[messageID]; ok && now.Before(exp) {
		return true, nil
	}
	l.entries[messageID] = now.Add(ttl)
	return false, nil
}

func (l *MemoryLedger) Seen(_ context.Context, messageID string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.entries[messageID]
	return ok && now.Before(exp), nil
}

func (l *MemoryLedger) Forget(_ context.Context, messageID string) error {
	l.mu.Lock()
	delete(l.entries, messageID)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) sweepLocked(now time.Time) {
	for id, exp := range l.entries {
		if !now.Before(exp) {
			delete(l.entries, id)
		}
	}
	l.lastGC = now
}
