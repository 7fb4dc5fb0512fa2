package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// redisKey returns the Redis key for a room's message list.
func redisKey(roomID string) string {
	return "room:" + roomID + ":messages"
}

// RedisStore persists messages in Redis using a list per room.
type RedisStore struct {
	client  redis.Cmdable
	maxSize int64
	log     *slog.Logger
}

var _ MessageStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore that retains up to maxSize messages per
// room. A maxSize of 0 keeps the whole history.
func NewRedisStore(client redis.Cmdable, maxSize int, log *slog.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		maxSize: int64(maxSize),
		log:     log.With("component", "redis-store"),
	}
}

// Append adds a message to the room's list in Redis, trimming to maxSize.
func (s *RedisStore) Append(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := redisKey(msg.RoomID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.maxSize > 0 {
		pipe.LTrim(ctx, key, -s.maxSize, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns every retained message of a room.
func (s *RedisStore) History(ctx context.Context, roomID string) ([]*Message, error) {
	return s.lrange(ctx, roomID, 0, -1)
}

// Recent returns the last n messages for a room.
func (s *RedisStore) Recent(ctx context.Context, roomID string, n int) ([]*Message, error) {
	if n <= 0 {
		return nil, nil
	}
	msgs, err := s.lrange(ctx, roomID, int64(-n), -1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return msgs, nil
}

// After returns all messages in a room stored after the message with the given ID.
func (s *RedisStore) After(ctx context.Context, roomID, afterID string) ([]*Message, error) {
	if afterID == "" {
		return nil, nil
	}

	msgs, err := s.lrange(ctx, roomID, 0, -1)
	if err != nil {
		return nil, err
	}
	for i, m := range msgs {
		if m.ID == afterID {
			result := make([]*Message, len(msgs)-i-1)
			copy(result, msgs[i+1:])
			return result, nil
		}
	}
	return nil, nil
}

// Count returns the number of stored messages for a room.
func (s *RedisStore) Count(ctx context.Context, roomID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := s.client.LLen(ctx, redisKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}

// DeleteRoom removes all stored messages for a room.
func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, redisKey(roomID)).Err(); err != nil {
		return fmt.Errorf("delete room messages: %w", err)
	}
	return nil
}

// PurgeAuthor removes every message written by username. Each matching
// entry is removed by value, which leaves the other entries in place.
func (s *RedisStore) PurgeAuthor(ctx context.Context, username string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	removed := 0
	iter := s.client.Scan(ctx, 0, redisKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return removed, fmt.Errorf("read %s: %w", key, err)
		}
		for _, v := range vals {
			var m Message
			if err := json.Unmarshal([]byte(v), &m); err != nil || m.Username != username {
				continue
			}
			n, err := s.client.LRem(ctx, key, 1, v).Result()
			if err != nil {
				return removed, fmt.Errorf("remove from %s: %w", key, err)
			}
			removed += int(n)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan room keys: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) lrange(ctx context.Context, roomID string, start, stop int64) ([]*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	vals, err := s.client.LRange(ctx, redisKey(roomID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	msgs := make([]*Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			s.log.Warn("skipping undecodable message", "room_id", roomID, "error", err)
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}
