package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/redis/go-redis/v9"
)

const roomCachePrefix = "chat:room:"

// RoomCache puts a redis read-through cache in front of room lookups. Private
// rooms never change once created, so entries need no invalidation; only
// hits are cached, never "not found".
type RoomCache struct {
	chat.Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRoomCache wraps next.
func NewRoomCache(next chat.Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *RoomCache {
	return &RoomCache{
		Store:  next,
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "room_cache")),
	}
}

type cachedRoom struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FindRoomByKey serves from redis when it can. Redis errors fall back to the
// store.
func (c *RoomCache) FindRoomByKey(ctx context.Context, key string) (*chat.Room, error) {
	data, err := c.client.Get(ctx, roomCachePrefix+key).Bytes()
	switch {
	case err == nil:
		var cr cachedRoom
		if err := json.Unmarshal(data, &cr); err == nil {
			c.hits.Add(1)
			return &chat.Room{ID: cr.ID, Kind: chat.RoomKind(cr.Kind), Participants: cr.Participants, CreatedAt: cr.CreatedAt}, nil
		}
		c.logger.Warn("dropping undecodable cache entry", slog.String("roomID", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("cache get failed", slog.String("roomID", key), slog.Any("error", err))
	}
	c.misses.Add(1)

	room, err := c.Store.FindRoomByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.set(ctx, room); err != nil {
		c.logger.Warn("cache set failed", slog.String("roomID", key), slog.Any("error", err))
	}
	return room, nil
}

func (c *RoomCache) set(ctx context.Context, room *chat.Room) error {
	data, err := json.Marshal(cachedRoom{
		ID:           room.ID,
		Kind:         string(room.Kind),
		Participants: room.Participants,
		CreatedAt:    room.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	return c.client.Set(ctx, roomCachePrefix+room.ID, data, c.ttl).Err()
}

// Stats returns hit and miss counts.
func (c *RoomCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
