package ledger

import (
	"context"
	"time"
)

// DefaultWindow bounds how long a message id is remembered. A genuine id is
// UUID-random, so a repeat after expiry is treated as a new message.
const DefaultWindow = 30 * time.Second

type (
	// Ledger guarantees at-most-once processing of a message id within its
	// window. CheckAndRemember is atomic: it returns true if the id was
	// already present, and records it with the given ttl otherwise. Forget
	// releases a reservation whose message was never stored, so the
	// client's retry is processed as a fresh attempt.
	Ledger interface {
		CheckAndRemember(ctx context.Context, messageID string, ttl time.Duration) (seen bool, err error)
		Seen(ctx context.Context, messageID string) (bool, error)
		Forget(ctx context.Context, messageID string) error
	}
)
