package collab

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whiteboard-server/core"
)

const (
	defaultMaxBatchSize    = 50
	defaultFlushDebounce   = 500 * time.Millisecond
	defaultBufferSweep     = 30 * time.Second
	defaultStaleAfter      = 10 * time.Second
	defaultBufferRetention = 5 * time.Minute
)

type roomBuffer struct {
	roomID string

	// flushMu serializes durable writes for the room so an in-flight flush
	// can never race a clear's replace-all.
	flushMu sync.Mutex

	mu           sync.Mutex
	pending      []core.Command
	pendingSince time.Time
	lastFlush    time.Time
	timer        *time.Timer

	// dead is set under mu when the retention sweep removes the buffer
	// from the manager's map. A dead buffer never accepts commands;
	// writers that raced the removal retry against a fresh buffer.
	dead bool
}

// BufferManager accumulates completed compact strokes per room and writes
// them out in batches. A flush happens on whichever comes first: the batch
// reaching maxBatchSize, an explicit force (join, leave, clear, disconnect,
// shutdown), or the debounce timer that resets on every arrival. A
// background sweep force-flushes buffers whose oldest unflushed command is
// stale and deletes buffers idle past the retention window.
type BufferManager struct {
	store core.RoomStore
	cache *RoomCache

	mu      sync.Mutex
	buffers map[string]*roomBuffer

	maxBatchSize  int
	debounce      time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration
	retention     time.Duration
}

func NewBufferManager(store core.RoomStore, cache *RoomCache) *BufferManager {
	return &BufferManager{
		store:         store,
		cache:         cache,
		buffers:       make(map[string]*roomBuffer),
		maxBatchSize:  defaultMaxBatchSize,
		debounce:      defaultFlushDebounce,
		sweepInterval: defaultBufferSweep,
		staleAfter:    defaultStaleAfter,
		retention:     defaultBufferRetention,
	}
}

func (m *BufferManager) lookup(roomID string) *roomBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffers[roomID]
}

func (m *BufferManager) getOrCreate(roomID string) *roomBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[roomID]
	if !ok {
		b = &roomBuffer{roomID: roomID, lastFlush: time.Now()}
		m.buffers[roomID] = b
	}
	return b
}

// Push enqueues a completed compact stroke for the room, flushing
// immediately at the batch-size limit and (re)arming the debounce timer
// otherwise. The retention sweep can remove the buffer between the map
// lookup and the append; a removed buffer is marked dead, so the command
// lands in its replacement instead of an orphan no flush path can reach.
func (m *BufferManager) Push(roomID string, cmd core.Command) {
	for !m.tryPush(m.getOrCreate(roomID), cmd) {
	}
}

// tryPush appends to b, reporting false if the sweep already removed it.
func (m *BufferManager) tryPush(b *roomBuffer, cmd core.Command) bool {
	roomID := b.roomID

	b.mu.Lock()
	if b.dead {
		b.mu.Unlock()
		return false
	}
	if len(b.pending) == 0 {
		b.pendingSince = time.Now()
	}
	b.pending = append(b.pending, cmd)
	full := len(b.pending) >= m.maxBatchSize
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if !full {
		b.timer = time.AfterFunc(m.debounce, func() {
			if err := m.Flush(context.Background(), roomID); err != nil {
				logrus.WithField("room_id", roomID).WithError(err).Warn("debounced flush failed")
			}
		})
	}
	b.mu.Unlock()

	if full {
		go func() {
			if err := m.Flush(context.Background(), roomID); err != nil {
				logrus.WithField("room_id", roomID).WithError(err).Warn("batch-size flush failed")
			}
		}()
	}
	return true
}

// Flush writes every pending command for the room to the store and
// invalidates the cache entry. On a store failure the batch stays queued
// for the next attempt; drawing stays live either way. Commands pushed
// after the flush snapshot was taken are preserved. A flush for a room
// with no buffer or no pending commands is a no-op.
func (m *BufferManager) Flush(ctx context.Context, roomID string) error {
	b := m.lookup(roomID)
	if b == nil {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	n := len(b.pending)
	if n == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending[:n:n]
	b.mu.Unlock()

	if err := m.store.AppendCommands(ctx, roomID, batch); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id":    roomID,
			"batch_size": n,
		}).WithError(err).Error("failed to flush drawing buffer")
		return err
	}

	b.mu.Lock()
	b.pending = b.pending[n:]
	now := time.Now()
	b.lastFlush = now
	if len(b.pending) == 0 {
		b.pendingSince = time.Time{}
	} else {
		b.pendingSince = now
	}
	b.mu.Unlock()

	m.cache.Invalidate(roomID)

	logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"batch_size": n,
	}).Debug("flushed drawing buffer")
	return nil
}

// Clear empties the buffer and replaces the room's durable history with the
// given single clear command. It holds the room's flush mutex throughout,
// so pre-clear commands can neither survive in the queue nor be appended
// after the replace-all by a racing flush.
func (m *BufferManager) Clear(ctx context.Context, roomID string, clearCmd core.Command) error {
	var b *roomBuffer
	for {
		b = m.getOrCreate(roomID)
		b.flushMu.Lock()
		b.mu.Lock()
		if !b.dead {
			break
		}
		b.mu.Unlock()
		b.flushMu.Unlock()
	}
	defer b.flushMu.Unlock()

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	n := len(b.pending)
	batch := b.pending[:n:n]
	b.pending = b.pending[n:]
	b.lastFlush = time.Now()
	b.pendingSince = time.Time{}
	b.mu.Unlock()

	// Pre-clear strokes are written out before the replace erases them, so
	// the queue is empty and nothing resurrects them later. A failure here
	// only loses data the clear is about to discard.
	if n > 0 {
		if err := m.store.AppendCommands(ctx, roomID, batch); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("pre-clear flush failed")
		}
	}

	if err := m.store.ReplaceCommands(ctx, roomID, []core.Command{clearCmd}); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("failed to clear room history")
		m.cache.Invalidate(roomID)
		return err
	}

	m.cache.Invalidate(roomID)
	return nil
}

// FlushAll force-flushes every room buffer. Used on shutdown.
func (m *BufferManager) FlushAll(ctx context.Context) {
	m.mu.Lock()
	roomIDs := make([]string, 0, len(m.buffers))
	for roomID := range m.buffers {
		roomIDs = append(roomIDs, roomID)
	}
	m.mu.Unlock()

	for _, roomID := range roomIDs {
		if err := m.Flush(ctx, roomID); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("shutdown flush failed")
		}
	}
}

// Start runs the staleness/retention sweep until the context is cancelled.
func (m *BufferManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx, time.Now())
			}
		}
	}()
}

func (m *BufferManager) sweep(ctx context.Context, now time.Time) {
	m.mu.Lock()
	type candidate struct {
		roomID string
		stale  bool
		idle   bool
	}
	candidates := make([]candidate, 0, len(m.buffers))
	for roomID, b := range m.buffers {
		b.mu.Lock()
		stale := len(b.pending) > 0 && now.Sub(b.pendingSince) > m.staleAfter
		idle := len(b.pending) == 0 && now.Sub(b.lastFlush) > m.retention
		b.mu.Unlock()
		candidates = append(candidates, candidate{roomID: roomID, stale: stale, idle: idle})
	}
	m.mu.Unlock()

	for _, c := range candidates {
		switch {
		case c.stale:
			if err := m.Flush(ctx, c.roomID); err != nil {
				logrus.WithField("room_id", c.roomID).WithError(err).Warn("stale-buffer flush failed")
			}
		case c.idle:
			m.deleteIfIdle(c.roomID)
		}
	}
}

func (m *BufferManager) deleteIfIdle(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[roomID]
	if !ok {
		return
	}

	b.mu.Lock()
	empty := len(b.pending) == 0
	if empty {
		b.dead = true
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	}
	b.mu.Unlock()

	if empty {
		delete(m.buffers, roomID)
		logrus.WithField("room_id", roomID).Debug("deleted idle drawing buffer")
	}
}
