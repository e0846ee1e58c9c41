// Package flash keeps per-user flash messages and short-lived vote locks in Redis.
package flash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when a lock is already held by another request.
var ErrLocked = errors.New("lock held")

// Categories used by the server when queueing messages.
const (
	CategoryMessage = "message"
	CategoryError   = "error"
)

// Message is one flashed message. It travels as a [category, message] pair.
type Message struct {
	Category string
	Text     string
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{m.Category, m.Text})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("flash message must be a [category, message] pair: %w", err)
	}
	m.Category, m.Text = pair[0], pair[1]
	return nil
}

// releaseScript deletes a lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore holds flash queues and vote locks.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. Queued messages expire after ttl.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func queueKey(userID string) string {
	return "flash:" + userID
}

func lockKey(name string) string {
	return "lock:" + name
}

// Push appends a message to the user's queue.
func (s *RedisStore) Push(ctx context.Context, userID string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal flash message: %w", err)
	}
	key := queueKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push flash message: %w", err)
	}
	return nil
}

// Drain returns and clears the user's queued messages, oldest first.
func (s *RedisStore) Drain(ctx context.Context, userID string) ([]Message, error) {
	key := queueKey(userID)
	var entries *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		entries = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain flash messages: %w", err)
	}

	messages := make([]Message, 0, len(entries.Val()))
	for _, raw := range entries.Val() {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Lock takes the named lock for ttl. The returned release func gives it back;
// it is safe to call after the lock has expired.
func (s *RedisStore) Lock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := lockKey(name)
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		_ = releaseScript.Run(context.Background(), s.client, []string{key}, token).Err()
	}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
