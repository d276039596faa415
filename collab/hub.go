package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"whiteboard-server/core"
)

// Broadcaster is the outbound half of the realtime channel. The socket.io
// layer implements it; tests substitute a recorder. Implementations must
// not block on persistence, so live fan-outs stay independent of store
// latency.
type Broadcaster interface {
	ToRoom(roomID, event string, payload map[string]any)
	ToRoomExcept(roomID, exceptConnID, event string, payload map[string]any)
	ToConn(connID, event string, payload map[string]any)
}

// Hub routes inbound session events: it keeps the registry current,
// re-broadcasts drawing activity to room peers immediately, and hands
// completed strokes to the simplifier and the room buffer. Events for a
// single connection are assumed to arrive serially (the transport
// dispatches per-socket events in order), so session state needs no lock
// of its own.
type Hub struct {
	store    core.RoomStore
	registry *Registry
	buffers  *BufferManager
	cache    *RoomCache
	emit     Broadcaster

	tolerance float64
}

func NewHub(store core.RoomStore, registry *Registry, buffers *BufferManager, cache *RoomCache, emit Broadcaster) *Hub {
	return &Hub{
		store:     store,
		registry:  registry,
		buffers:   buffers,
		cache:     cache,
		emit:      emit,
		tolerance: DefaultTolerance,
	}
}

// Join admits the connection to the room and replies with the initial
// snapshot. The room's buffer is force-flushed and the document re-read so
// the snapshot reflects everything drawn so far; the compact history is
// expanded back into incremental events for replay. Returns false when no
// session was created, i.e. the room does not exist or the read failed.
func (h *Hub) Join(ctx context.Context, connID, roomID string) bool {
	log := logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": roomID})

	if _, err := h.cache.Get(ctx, roomID); err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			h.emit.ToConn(connID, "error", map[string]any{"message": "Room not found"})
			return false
		}
		log.WithError(err).Error("failed to look up room")
		h.emit.ToConn(connID, "error", map[string]any{"message": "Failed to join room"})
		return false
	}

	if err := h.buffers.Flush(ctx, roomID); err != nil {
		log.WithError(err).Warn("pre-join flush failed, snapshot may lag")
	}

	room, err := h.store.FindRoom(ctx, roomID)
	if err != nil {
		log.WithError(err).Error("failed to read room snapshot")
		h.emit.ToConn(connID, "error", map[string]any{"message": "Failed to join room"})
		return false
	}

	h.registry.Register(connID, roomID)
	userCount := h.registry.CountInRoom(roomID)

	events := CommandsToEvents(room.DrawingData)
	drawingData := make([]map[string]any, 0, len(events))
	for _, event := range events {
		drawingData = append(drawingData, event.WirePayload())
	}

	h.emit.ToConn(connID, "room-joined", map[string]any{
		"roomId":      roomID,
		"drawingData": drawingData,
		"userCount":   userCount,
	})
	h.emit.ToRoomExcept(roomID, connID, "user-joined", map[string]any{
		"userCount": userCount,
	})

	if err := h.store.TouchRoom(ctx, roomID); err != nil {
		log.WithError(err).Warn("failed to touch room activity")
	}

	log.WithField("user_count", userCount).Info("connection joined room")
	return true
}

// Leave tears down the connection's session. Handles both an explicit
// leave-room and a transport disconnect: a stroke still in progress is
// finalized with the points accumulated so far rather than lost. Returns
// the room left, or ok=false when the connection had no session.
func (h *Hub) Leave(ctx context.Context, connID string) (roomID string, ok bool) {
	session, ok := h.registry.Get(connID)
	if !ok {
		return "", false
	}
	roomID = session.RoomID

	if session.CurrentStroke != nil {
		h.finalizeStroke(session)
	}

	h.registry.Unregister(connID)
	userCount := h.registry.CountInRoom(roomID)
	h.emit.ToRoomExcept(roomID, connID, "user-left", map[string]any{
		"userCount": userCount,
	})

	if err := h.buffers.Flush(ctx, roomID); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("post-leave flush failed")
	}
	if err := h.store.TouchRoom(ctx, roomID); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("failed to touch room activity")
	}
	h.cache.Invalidate(roomID)

	logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": roomID}).Info("connection left room")
	return roomID, true
}

// CursorMove re-broadcasts the cursor position to room peers. Not
// persisted, not buffered.
func (h *Hub) CursorMove(connID string, x, y float64) {
	session, ok := h.registry.Get(connID)
	if !ok {
		return
	}

	h.emit.ToRoomExcept(session.RoomID, connID, "cursor-update", map[string]any{
		"connectionId": connID,
		"x":            x,
		"y":            y,
	})
}

// DrawStart opens a new stroke for the connection and re-broadcasts the
// start event immediately. Ignored when a stroke is already in progress.
func (h *Hub) DrawStart(connID string, x, y float64, color string, strokeWidth float64) {
	session, ok := h.registry.Get(connID)
	if !ok || session.IsDrawing {
		return
	}

	now := time.Now()
	session.IsDrawing = true
	session.CurrentStroke = &Stroke{
		ID:          fmt.Sprintf("%s-%s", connID, ulid.Make()),
		Color:       color,
		StrokeWidth: strokeWidth,
		Points:      []core.Point{{X: x, Y: y}},
		StartedAt:   now,
	}

	h.broadcastStrokeEvent(session, core.EventStart, core.Point{X: x, Y: y}, now)
}

// DrawMove appends a raw point to the in-progress stroke and re-broadcasts
// it. A move without an active stroke is a stray duplicate and is dropped.
func (h *Hub) DrawMove(connID string, x, y float64) {
	session, ok := h.registry.Get(connID)
	if !ok || !session.IsDrawing || session.CurrentStroke == nil {
		return
	}

	h.broadcastStrokeEvent(session, core.EventMove, core.Point{X: x, Y: y}, time.Now())
	session.CurrentStroke.Points = append(session.CurrentStroke.Points, core.Point{X: x, Y: y})
}

// DrawEnd closes the stroke: final point appended, end event re-broadcast,
// then the full point list is simplified and queued for persistence. The
// stroke object alone gates this, so a duplicate end after the drawing
// flag already dropped is absorbed quietly.
func (h *Hub) DrawEnd(connID string, x, y float64) {
	session, ok := h.registry.Get(connID)
	if !ok || session.CurrentStroke == nil {
		return
	}

	session.CurrentStroke.Points = append(session.CurrentStroke.Points, core.Point{X: x, Y: y})
	h.broadcastStrokeEvent(session, core.EventEnd, core.Point{X: x, Y: y}, time.Now())
	h.finalizeStroke(session)
}

// ClearCanvas broadcasts the clear to the whole room, sender included,
// then empties the buffer and replaces the durable history with a single
// clear command.
func (h *Hub) ClearCanvas(ctx context.Context, connID string) {
	session, ok := h.registry.Get(connID)
	if !ok {
		return
	}

	now := time.Now()
	clearEvent := core.DrawEvent{Kind: core.EventClear, Timestamp: now}
	h.emit.ToRoom(session.RoomID, "canvas-cleared", clearEvent.WirePayload())

	clearCmd := core.Command{Type: core.CommandClear, Timestamp: now}
	if err := h.buffers.Clear(ctx, session.RoomID, clearCmd); err != nil {
		logrus.WithField("room_id", session.RoomID).WithError(err).Error("failed to persist canvas clear")
	}
}

func (h *Hub) broadcastStrokeEvent(session *Session, kind string, p core.Point, at time.Time) {
	stroke := session.CurrentStroke
	event := core.DrawEvent{
		Kind:        kind,
		StrokeID:    stroke.ID,
		Point:       p,
		Color:       stroke.Color,
		StrokeWidth: stroke.StrokeWidth,
		Timestamp:   at,
	}
	h.emit.ToRoomExcept(session.RoomID, session.ConnID, "draw-update", event.WirePayload())
}

// finalizeStroke compacts the accumulated raw points and transfers
// ownership of the result to the room buffer.
func (h *Hub) finalizeStroke(session *Session) {
	stroke := session.CurrentStroke
	cmd := core.Command{
		Type: core.CommandStroke,
		Data: core.StrokeData{
			StrokeID:    stroke.ID,
			Points:      SimplifyPoints(stroke.Points, h.tolerance),
			Color:       stroke.Color,
			StrokeWidth: stroke.StrokeWidth,
		},
		Timestamp: time.Now(),
	}
	h.buffers.Push(session.RoomID, cmd)

	session.IsDrawing = false
	session.CurrentStroke = nil
}
