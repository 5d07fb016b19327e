package cache

import (
	"context"
	"fmt"
	"time"

	"echonote/db"

	"github.com/redis/go-redis/v9"
)

const (
	noteEditorsKey  = "note:%s:editors"     // Set: connection ids currently editing
	notePresenceKey = "note:%s:presence:%s" // String: heartbeat key (noteID, connID)
	presenceTTL     = 60 * time.Second
)

// PresenceCache tracks which connections are viewing a note. Purely
// advisory: room membership itself lives in the hub, this only feeds the
// editor-presence endpoint.
type PresenceCache struct {
	client *redis.Client
}

// NewPresenceCache creates a presence cache over the shared Redis client.
func NewPresenceCache() *PresenceCache {
	return &PresenceCache{client: db.RedisClient}
}

// Touch marks a connection as present on a note and refreshes its heartbeat.
func (c *PresenceCache) Touch(ctx context.Context, noteID, connID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.SAdd(ctx, fmt.Sprintf(noteEditorsKey, noteID), connID)
	pipe.Set(ctx, fmt.Sprintf(notePresenceKey, noteID, connID), "1", presenceTTL)
	pipe.Expire(ctx, fmt.Sprintf(noteEditorsKey, noteID), presenceTTL*2)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove clears a connection's presence on a note.
func (c *PresenceCache) Remove(ctx context.Context, noteID, connID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pipe := c.client.Pipeline()
	pipe.SRem(ctx, fmt.Sprintf(noteEditorsKey, noteID), connID)
	pipe.Del(ctx, fmt.Sprintf(notePresenceKey, noteID, connID))
	_, err := pipe.Exec(ctx)
	return err
}

// ActiveEditors returns the connection ids with a live heartbeat for a note.
// Entries whose heartbeat expired are pruned from the set as a side effect.
func (c *PresenceCache) ActiveEditors(ctx context.Context, noteID string) ([]string, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	members, err := c.client.SMembers(ctx, fmt.Sprintf(noteEditorsKey, noteID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	active := make([]string, 0, len(members))
	for _, connID := range members {
		exists, err := c.client.Exists(ctx, fmt.Sprintf(notePresenceKey, noteID, connID)).Result()
		if err != nil {
			return nil, err
		}
		if exists > 0 {
			active = append(active, connID)
			continue
		}
		c.client.SRem(ctx, fmt.Sprintf(noteEditorsKey, noteID), connID)
	}
	return active, nil
}
