package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"whiteboard-server/core"
)

type roomStore struct {
	mu    sync.RWMutex
	rooms map[string]*core.Room
}

func NewRoomStore() core.RoomStore {
	return &roomStore{rooms: make(map[string]*core.Room)}
}

// cloneRoom deep-copies the drawing history so callers never alias store
// state.
func cloneRoom(room *core.Room) *core.Room {
	clone := *room
	clone.DrawingData = make([]core.Command, len(room.DrawingData))
	copy(clone.DrawingData, room.DrawingData)
	return &clone
}

func (s *roomStore) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *roomStore) CreateRoom(ctx context.Context, room *core.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.RoomID]; ok {
		return core.ErrRoomExists
	}
	s.rooms[room.RoomID] = cloneRoom(room)

	logrus.WithField("room_id", room.RoomID).Info("room created")
	return nil
}

func (s *roomStore) AppendCommands(ctx context.Context, roomID string, commands []core.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.DrawingData = append(room.DrawingData, commands...)
	room.LastActivity = time.Now()
	return nil
}

func (s *roomStore) ReplaceCommands(ctx context.Context, roomID string, commands []core.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.DrawingData = make([]core.Command, len(commands))
	copy(room.DrawingData, commands)
	room.LastActivity = time.Now()
	return nil
}

func (s *roomStore) TouchRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return core.ErrRoomNotFound
	}
	room.LastActivity = time.Now()
	return nil
}

func (s *roomStore) ListRooms(ctx context.Context) ([]core.RoomSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]core.RoomSummary, 0, len(s.rooms))
	for _, room := range s.rooms {
		summaries = append(summaries, core.RoomSummary{
			RoomID:       room.RoomID,
			CreatedAt:    room.CreatedAt,
			LastActivity: room.LastActivity,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].LastActivity.Equal(summaries[j].LastActivity) {
			return summaries[i].RoomID < summaries[j].RoomID
		}
		return summaries[i].LastActivity.After(summaries[j].LastActivity)
	})

	return summaries, nil
}
