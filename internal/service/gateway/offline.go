package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	redisSvc "veilchat/internal/service/redis"

	"veilchat/internal/model"
)

type (
	// RedisOfflineQueue buffers frames per user in a redis list until the
	// user's next connection drains it.
	RedisOfflineQueue struct {
		svc *redisSvc.RedisService
	}
)

func NewRedisOfflineQueue(svc *redisSvc.RedisService) *RedisOfflineQueue {
	return &RedisOfflineQueue{svc: svc}
}

func offlineKey(userID string) string {
	return fmt.Sprintf("offline:%s", userID)
}

func (q *RedisOfflineQueue) Push(ctx context.Context, userID string, frame *model.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal offline frame: %w", err)
	}
	return q.svc.RPush(ctx, offlineKey(userID), data)
}

func (q *RedisOfflineQueue) Drain(ctx context.Context, userID string) ([]*model.Frame, error) {
	key := offlineKey(userID)
	vals, err := q.svc.LRange(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := q.svc.Del(ctx, key); err != nil {
		return nil, err
	}

	var frames []*model.Frame
	for _, v := range vals {
		var f model.Frame
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, err
		}
		frames = append(frames, &f)
	}
	return frames, nil
}
