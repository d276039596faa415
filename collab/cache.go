package collab

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whiteboard-server/core"
)

const (
	defaultCacheSweepInterval = 30 * time.Second
	defaultCacheMaxIdle       = 10 * time.Minute
)

type cacheEntry struct {
	room       *core.Room
	lastAccess time.Time
}

// RoomCache is a read-through, write-invalidate cache of room documents.
// Every code path that mutates a room must call Invalidate before it
// completes, so a hit can only be stale between flushes.
type RoomCache struct {
	store core.RoomStore

	mu      sync.Mutex
	entries map[string]*cacheEntry

	// generations counts invalidations per room. A load snapshots the
	// generation before reading the store and only caches its result if no
	// invalidation landed in between, so a read of pre-write state can
	// never overwrite the invalidation that followed the write.
	generations map[string]uint64

	sweepInterval time.Duration
	maxIdle       time.Duration
}

func NewRoomCache(store core.RoomStore) *RoomCache {
	return &RoomCache{
		store:         store,
		entries:       make(map[string]*cacheEntry),
		generations:   make(map[string]uint64),
		sweepInterval: defaultCacheSweepInterval,
		maxIdle:       defaultCacheMaxIdle,
	}
}

// Get returns the cached room document, refreshing its access time, or
// loads it from the store and caches it. Unknown rooms are not cached;
// the store's ErrRoomNotFound passes through.
func (c *RoomCache) Get(ctx context.Context, roomID string) (*core.Room, error) {
	c.mu.Lock()
	if entry, ok := c.entries[roomID]; ok {
		entry.lastAccess = time.Now()
		room := entry.room
		c.mu.Unlock()
		return room, nil
	}
	gen := c.generations[roomID]
	c.mu.Unlock()

	room, err := c.store.FindRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.generations[roomID] == gen {
		c.entries[roomID] = &cacheEntry{room: room, lastAccess: time.Now()}
	}
	c.mu.Unlock()

	return room, nil
}

// Invalidate drops the entry unconditionally. Called after every durable
// write to the room.
func (c *RoomCache) Invalidate(roomID string) {
	c.mu.Lock()
	delete(c.entries, roomID)
	c.generations[roomID]++
	c.mu.Unlock()
}

// Start runs the idle sweep until the context is cancelled.
func (c *RoomCache) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(time.Now())
			}
		}
	}()
}

func (c *RoomCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, entry := range c.entries {
		if now.Sub(entry.lastAccess) > c.maxIdle {
			delete(c.entries, roomID)
			logrus.WithField("room_id", roomID).Debug("evicted idle room cache entry")
		}
	}
}
