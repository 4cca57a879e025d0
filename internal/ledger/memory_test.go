package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestCheckAndRememberDeduplicates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewMemoryLedger(clock.Now)
	ctx := context.Background()

	seen, err := l.CheckAndRemember(ctx, "msg-1", DefaultWindow)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = l.CheckAndRemember(ctx, "msg-1", DefaultWindow)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestForgetReleasesReservation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewMemoryLedger(clock.Now)
	ctx := context.Background()

	seen, err := l.CheckAndRemember(ctx, "msg-1", DefaultWindow)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, l.Forget(ctx, "msg-1"))

	seen, err = l.CheckAndRemember(ctx, "msg-1", DefaultWindow)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEntryExpiresAfterWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewMemoryLedger(clock.Now)
	ctx := context.Background()

	_, err := l.CheckAndRemember(ctx, "msg-1", DefaultWindow)
	require.NoError(t, err)

	clock.Advance(DefaultWindow - time.Second)
	seen, err := l.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen, "still inside the window")

	clock.Advance(2 * time.Second)
	seen, err = l.Seen(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen, "expired")

	// a re-seen id after expiry is a new message
	seen, err = l.CheckAndRemember(ctx, "msg-1", DefaultWindow)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := NewMemoryLedger(clock.Now)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := l.CheckAndRemember(ctx, id, time.Second)
		require.NoError(t, err)
	}

	clock.Advance(2 * gcInterval)
	// any write triggers the sweep once the interval has passed
	_, err := l.CheckAndRemember(ctx, "d", time.Second)
	require.NoError(t, err)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.entries, 1, "expired entries swept, only the fresh one remains")
}
