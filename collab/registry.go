package collab

import (
	"sync"
	"time"

	"whiteboard-server/core"
)

type (
	// Stroke is a drawing gesture in progress, exclusively owned by its
	// session until completion. Points holds the raw, unsimplified sequence.
	Stroke struct {
		ID          string
		Color       string
		StrokeWidth float64
		Points      []core.Point
		StartedAt   time.Time
	}

	// Session is the per-connection state tracked while a connection is in
	// a room.
	Session struct {
		ConnID        string
		RoomID        string
		JoinedAt      time.Time
		IsDrawing     bool
		CurrentStroke *Stroke
	}

	// Registry tracks live sessions by connection id.
	Registry struct {
		mu       sync.RWMutex
		sessions map[string]*Session
	}
)

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register creates a session for the connection in the given room,
// replacing any previous session for the same connection.
func (r *Registry) Register(connID, roomID string) *Session {
	session := &Session{
		ConnID:   connID,
		RoomID:   roomID,
		JoinedAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[connID] = session
	r.mu.Unlock()

	return session
}

// Unregister removes the connection's session and reports the room it was
// in. ok is false when no session existed.
func (r *Registry) Unregister(connID string) (roomID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[connID]
	if !ok {
		return "", false
	}
	delete(r.sessions, connID)
	return session.RoomID, true
}

func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[connID]
	return session, ok
}

// CountInRoom returns the number of live sessions in the room. A linear
// scan is fine at the expected session counts.
func (r *Registry) CountInRoom(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, session := range r.sessions {
		if session.RoomID == roomID {
			count++
		}
	}
	return count
}
