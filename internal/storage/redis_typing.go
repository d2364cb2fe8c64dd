package storage

import (
	"context"
	"whispermatch/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisTyping keeps typing flags in one Redis hash per room.
type RedisTyping struct {
	Redis  *redis.Client
	Prefix string
}

// NewRedisTyping uses "typing:" as key prefix when prefix is empty.
func NewRedisTyping(rdb *redis.Client, prefix string) *RedisTyping {
	if prefix == "" {
		prefix = "typing:"
	}
	return &RedisTyping{Redis: rdb, Prefix: prefix}
}

// Key returns the hash key holding a room's flags.
func (t *RedisTyping) Key(roomID string) string {
	return t.Prefix + roomID
}

func (t *RedisTyping) SetTyping(ctx context.Context, roomID, sessionID string, typing bool) error {
	v := "0"
	if typing {
		v = "1"
	}
	return t.Redis.HSet(ctx, t.Key(roomID), sessionID, v).Err()
}

func (t *RedisTyping) GetTyping(ctx context.Context, roomID string) (models.TypingStatus, error) {
	raw, err := t.Redis.HGetAll(ctx, t.Key(roomID)).Result()
	if err != nil {
		return nil, err
	}
	status := make(models.TypingStatus, len(raw))
	for id, v := range raw {
		status[id] = v == "1"
	}
	return status, nil
}
