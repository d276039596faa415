package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"whiteboard-server/core"
)

// fakeStore is an in-memory RoomStore double shared by the collab tests.
type fakeStore struct {
	mu           sync.Mutex
	rooms        map[string]*core.Room
	appendErr    error
	findHook     func()
	findCalls    int
	appendCalls  int
	replaceCalls int
	touchCalls   int
}

func newFakeStore(roomIDs ...string) *fakeStore {
	s := &fakeStore{rooms: make(map[string]*core.Room)}
	now := time.Now()
	for _, roomID := range roomIDs {
		s.rooms[roomID] = &core.Room{
			RoomID:       roomID,
			CreatedAt:    now,
			LastActivity: now,
			DrawingData:  []core.Command{},
		}
	}
	return s
}

func (s *fakeStore) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findHook != nil {
		s.findHook()
	}

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	clone := *room
	clone.DrawingData = append([]core.Command(nil), room.DrawingData...)
	return &clone, nil
}

func (s *fakeStore) CreateRoom(ctx context.Context, room *core.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.RoomID]; ok {
		return core.ErrRoomExists
	}
	clone := *room
	clone.DrawingData = append([]core.Command(nil), room.DrawingData...)
	s.rooms[room.RoomID] = &clone
	return nil
}

func (s *fakeStore) AppendCommands(ctx context.Context, roomID string, commands []core.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendCalls++

	if s.appendErr != nil {
		return s.appendErr
	}
	room, ok := s.rooms[roomID]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.DrawingData = append(room.DrawingData, commands...)
	room.LastActivity = time.Now()
	return nil
}

func (s *fakeStore) ReplaceCommands(ctx context.Context, roomID string, commands []core.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++

	room, ok := s.rooms[roomID]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.DrawingData = append([]core.Command(nil), commands...)
	room.LastActivity = time.Now()
	return nil
}

func (s *fakeStore) TouchRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchCalls++

	room, ok := s.rooms[roomID]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.LastActivity = time.Now()
	return nil
}

func (s *fakeStore) ListRooms(ctx context.Context) ([]core.RoomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]core.RoomSummary, 0, len(s.rooms))
	for _, room := range s.rooms {
		summaries = append(summaries, core.RoomSummary{
			RoomID:       room.RoomID,
			CreatedAt:    room.CreatedAt,
			LastActivity: room.LastActivity,
		})
	}
	return summaries, nil
}

func (s *fakeStore) history(roomID string) []core.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return append([]core.Command(nil), room.DrawingData...)
}

func (s *fakeStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCalls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// newTestBuffers wires a manager with a debounce long enough that flushes
// only happen when a test asks for them.
func newTestBuffers(store core.RoomStore) (*BufferManager, *RoomCache) {
	cache := NewRoomCache(store)
	m := NewBufferManager(store, cache)
	m.debounce = time.Hour
	return m, cache
}

func TestBufferManager_FlushWritesBatch(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)

	m.Push("ROOM01", strokeCommand("s1", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 9, Y: 9}))
	m.Push("ROOM01", strokeCommand("s2", time.Now(), core.Point{X: 2, Y: 2}, core.Point{X: 8, Y: 8}))

	if got := len(store.history("ROOM01")); got != 0 {
		t.Fatalf("store written before flush: %d commands", got)
	}

	if err := m.Flush(context.Background(), "ROOM01"); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	history := store.history("ROOM01")
	if len(history) != 2 {
		t.Fatalf("expected 2 commands after flush, got %d", len(history))
	}
	if history[0].Data.StrokeID != "s1" || history[1].Data.StrokeID != "s2" {
		t.Errorf("commands out of order: %v", history)
	}
}

func TestBufferManager_BatchSizeTriggersFlush(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)
	m.maxBatchSize = 3

	for i := 0; i < 3; i++ {
		m.Push("ROOM01", strokeCommand("s", time.Now(), core.Point{X: float64(i), Y: 0}, core.Point{X: float64(i), Y: 9}))
	}

	waitFor(t, time.Second, func() bool {
		return len(store.history("ROOM01")) == 3
	})
}

func TestBufferManager_DebounceTriggersFlush(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)
	m.debounce = 20 * time.Millisecond

	m.Push("ROOM01", strokeCommand("s1", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 9, Y: 9}))

	waitFor(t, time.Second, func() bool {
		return len(store.history("ROOM01")) == 1
	})
}

func TestBufferManager_FailedFlushKeepsBatch(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)

	m.Push("ROOM01", strokeCommand("s1", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 9, Y: 9}))

	store.mu.Lock()
	store.appendErr = context.DeadlineExceeded
	store.mu.Unlock()

	if err := m.Flush(context.Background(), "ROOM01"); err == nil {
		t.Fatal("Flush() should surface the store failure")
	}
	if got := len(store.history("ROOM01")); got != 0 {
		t.Fatalf("failed flush wrote %d commands", got)
	}

	store.mu.Lock()
	store.appendErr = nil
	store.mu.Unlock()

	if err := m.Flush(context.Background(), "ROOM01"); err != nil {
		t.Fatalf("retry Flush() failed: %v", err)
	}
	if got := len(store.history("ROOM01")); got != 1 {
		t.Fatalf("expected the batch on retry, got %d commands", got)
	}
}

func TestBufferManager_ClearReplacesHistory(t *testing.T) {
	store := newFakeStore("ROOM01")
	store.rooms["ROOM01"].DrawingData = []core.Command{
		strokeCommand("old", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 2, Y: 2}),
	}
	m, _ := newTestBuffers(store)

	m.Push("ROOM01", strokeCommand("pending", time.Now(), core.Point{X: 3, Y: 3}, core.Point{X: 4, Y: 4}))

	clearCmd := core.Command{Type: core.CommandClear, Timestamp: time.Now()}
	if err := m.Clear(context.Background(), "ROOM01", clearCmd); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}

	history := store.history("ROOM01")
	if len(history) != 1 || history[0].Type != core.CommandClear {
		t.Fatalf("expected exactly one clear command, got %v", history)
	}

	// Nothing pending may resurrect pre-clear strokes.
	if err := m.Flush(context.Background(), "ROOM01"); err != nil {
		t.Fatalf("post-clear Flush() failed: %v", err)
	}
	history = store.history("ROOM01")
	if len(history) != 1 || history[0].Type != core.CommandClear {
		t.Fatalf("flush after clear resurrected commands: %v", history)
	}
}

func TestBufferManager_FlushUnknownRoomIsNoop(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestBuffers(store)

	if err := m.Flush(context.Background(), "NOROOM"); err != nil {
		t.Errorf("Flush() on unknown room = %v, want nil", err)
	}
	if store.appendCount() != 0 {
		t.Error("Flush() on unknown room touched the store")
	}
}

func TestBufferManager_SweepFlushesStaleBuffer(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)
	m.staleAfter = 10 * time.Millisecond

	m.Push("ROOM01", strokeCommand("s1", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 9, Y: 9}))
	time.Sleep(20 * time.Millisecond)

	m.sweep(context.Background(), time.Now())

	if got := len(store.history("ROOM01")); got != 1 {
		t.Fatalf("sweep did not flush stale buffer, history has %d commands", got)
	}
}

func TestBufferManager_SweepDeletesIdleBuffer(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)
	m.retention = 10 * time.Millisecond

	m.Push("ROOM01", strokeCommand("s1", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 9, Y: 9}))
	if err := m.Flush(context.Background(), "ROOM01"); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	m.sweep(context.Background(), time.Now())

	if m.lookup("ROOM01") != nil {
		t.Error("idle buffer not deleted by sweep")
	}

	// The buffer is recreated lazily on the next push.
	m.Push("ROOM01", strokeCommand("s2", time.Now(), core.Point{X: 2, Y: 2}, core.Point{X: 8, Y: 8}))
	if m.lookup("ROOM01") == nil {
		t.Error("buffer not recreated after deletion")
	}
}

func TestBufferManager_PushRacingIdleDeletion(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)

	// Interleaving: a push looks up the buffer, the retention sweep removes
	// it, then the push appends. The removed buffer must refuse the append
	// so the command lands in a buffer the flush paths can still reach.
	stale := m.getOrCreate("ROOM01")
	m.deleteIfIdle("ROOM01")

	cmd := strokeCommand("s1", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 9, Y: 9})
	if m.tryPush(stale, cmd) {
		t.Fatal("append accepted by a buffer the sweep already removed")
	}

	m.Push("ROOM01", cmd)
	m.FlushAll(context.Background())

	if got := len(store.history("ROOM01")); got != 1 {
		t.Fatalf("store has %d commands after flushing everything, want 1", got)
	}
	if m.lookup("ROOM01") == stale {
		t.Error("removed buffer is back in the map")
	}
}

func TestBufferManager_ConcurrentPushAndIdleSweep(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, _ := newTestBuffers(store)
	m.retention = 0 // every sweep pass sees a drained buffer as expired

	const pushes = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < pushes; i++ {
			m.Push("ROOM01", strokeCommand("s", time.Now(), core.Point{X: float64(i), Y: 0}, core.Point{X: float64(i), Y: 9}))
			if i%10 == 0 {
				// Drain so the sweep keeps finding deletable buffers.
				_ = m.Flush(context.Background(), "ROOM01")
			}
		}
	}()

	for {
		select {
		case <-done:
			m.FlushAll(context.Background())
			if got := len(store.history("ROOM01")); got != pushes {
				t.Fatalf("store has %d commands after flushing everything, want %d", got, pushes)
			}
			return
		default:
			m.sweep(context.Background(), time.Now().Add(time.Minute))
		}
	}
}

func TestBufferManager_CacheCoherentAfterFlush(t *testing.T) {
	store := newFakeStore("ROOM01")
	m, cache := newTestBuffers(store)

	if _, err := cache.Get(context.Background(), "ROOM01"); err != nil {
		t.Fatalf("cache Get() failed: %v", err)
	}

	m.Push("ROOM01", strokeCommand("s1", time.Now(), core.Point{X: 1, Y: 1}, core.Point{X: 9, Y: 9}))
	if err := m.Flush(context.Background(), "ROOM01"); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	room, err := cache.Get(context.Background(), "ROOM01")
	if err != nil {
		t.Fatalf("cache Get() after flush failed: %v", err)
	}
	if len(room.DrawingData) != 1 {
		t.Errorf("cache served a document missing the flushed write: %v", room.DrawingData)
	}
}
