package ledger

import (
	"context"
	"fmt"
	"time"

	redisSvc "veilchat/internal/service/redis"
)

type (
	// RedisLedger is the shared backend. Redis expires the keys itself, so
	// a re-seen id after the window is a fresh SETNX hit and treated as new.
	RedisLedger struct {
		svc *redisSvc.RedisService
	}
)

func NewRedisLedger(svc *redisSvc.RedisService) *RedisLedger {
	return &RedisLedger{svc: svc}
}

func dedupeKey(messageID string) string {
	return fmt.Sprintf("dedupe:%s", messageID)
}

func (l *RedisLedger) CheckAndRemember(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	stored, err := l.svc.SetNX(ctx, dedupeKey(messageID), 1, ttl)
	if err != nil {
		return false, fmt.Errorf("ledger setnx: %w", err)
	}
	return !stored, nil
}

func (l *RedisLedger) Forget(ctx context.Context, messageID string) error {
	if err := l.svc.Del(ctx, dedupeKey(messageID)); err != nil {
		return fmt.Errorf("ledger del: %w", err)
	}
	return nil
}

func (l *RedisLedger) Seen(ctx context.Context, messageID string) (bool, error) {
	ok, err := l.svc.Exists(ctx, dedupeKey(messageID))
	if err != nil {
		return false, fmt.Errorf("ledger exists: %w", err)
	}
	return ok, nil
}
