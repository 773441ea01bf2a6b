package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionCache keeps ephemeral per-chat agent state in Redis: in-flight run
// markers and the dataset context carried between turns. Durable state never
// lives here, and permissions are never cached.
type SessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionCache{client: client, ttl: ttl}
}

func runKey(chatID uuid.UUID) string { return "chat:" + chatID.String() + ":running" }

func stateKey(chatID uuid.UUID) string { return "chat:" + chatID.String() + ":state" }

// MarkRunning flags a chat as having an in-flight agent run. Returns false
// when another run already holds the flag.
func (c *SessionCache) MarkRunning(ctx context.Context, chatID uuid.UUID) (bool, error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	return c.client.SetNX(ctx, runKey(chatID), 1, c.ttl).Result()
}

// ClearRunning releases the in-flight flag.
func (c *SessionCache) ClearRunning(ctx context.Context, chatID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, runKey(chatID)).Err()
}

// SaveState stores the agent's serializable state snapshot for the chat.
func (c *SessionCache) SaveState(ctx context.Context, chatID uuid.UUID, state map[string]any) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, stateKey(chatID), payload, c.ttl).Err()
}

// LoadState returns the stored snapshot, or nil when none exists.
func (c *SessionCache) LoadState(ctx context.Context, chatID uuid.UUID) (map[string]any, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	payload, err := c.client.Get(ctx, stateKey(chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, err
	}
	return state, nil
}
