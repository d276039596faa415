package websocket

import (
	"context"
	"regexp"

	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"whiteboard-server/collab"
	"whiteboard-server/core"
)

// serverBroadcaster implements collab.Broadcaster over the socket.io
// server. Each socket is a member of its own id-named room, which is how
// single-connection sends are addressed.
type serverBroadcaster struct {
	srv *socketio.Server
}

//nolint:errcheck // Socket.IO emits do not return useful errors
func (b *serverBroadcaster) ToRoom(roomID, event string, payload map[string]any) {
	_ = b.srv.To(socketio.Room(roomID)).Emit(event, payload)
}

//nolint:errcheck // Socket.IO emits do not return useful errors
func (b *serverBroadcaster) ToRoomExcept(roomID, exceptConnID, event string, payload map[string]any) {
	_ = b.srv.To(socketio.Room(roomID)).Except(socketio.Room(exceptConnID)).Emit(event, payload)
}

//nolint:errcheck // Socket.IO emits do not return useful errors
func (b *serverBroadcaster) ToConn(connID, event string, payload map[string]any) {
	_ = b.srv.To(socketio.Room(connID)).Emit(event, payload)
}

// SetupSocketIO builds the socket.io server and binds the whiteboard wire
// protocol to a collab hub over the given components.
func SetupSocketIO(store core.RoomStore, registry *collab.Registry, buffers *collab.BufferManager, cache *collab.RoomCache) (*socketio.Server, *collab.Hub) {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin:      []any{localhostOrigin},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	hub := collab.NewHub(store, registry, buffers, cache, &serverBroadcaster{srv: srv})

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		connID := string(socket.Id())

		//nolint:errcheck
		socket.On("join-room", func(datas ...any) {
			data := eventPayload(datas)
			roomID, ok := stringField(data, "roomId")
			if !ok || roomID == "" {
				_ = socket.Emit("error", map[string]any{"message": "Room not found"})
				return
			}
			if hub.Join(context.Background(), connID, roomID) {
				socket.Join(socketio.Room(roomID))
			}
		})

		//nolint:errcheck
		socket.On("leave-room", func(datas ...any) {
			if roomID, ok := hub.Leave(context.Background(), connID); ok {
				socket.Leave(socketio.Room(roomID))
			}
		})

		socket.On("cursor-move", func(datas ...any) {
			data := eventPayload(datas)
			x, okX := floatField(data, "x")
			y, okY := floatField(data, "y")
			if !okX || !okY {
				return
			}
			hub.CursorMove(connID, x, y)
		})

		socket.On("draw-start", func(datas ...any) {
			data := eventPayload(datas)
			x, okX := floatField(data, "x")
			y, okY := floatField(data, "y")
			if !okX || !okY {
				return
			}
			color, _ := stringField(data, "color")
			strokeWidth, _ := floatField(data, "strokeWidth")
			hub.DrawStart(connID, x, y, color, strokeWidth)
		})

		socket.On("draw-move", func(datas ...any) {
			data := eventPayload(datas)
			x, okX := floatField(data, "x")
			y, okY := floatField(data, "y")
			if !okX || !okY {
				return
			}
			hub.DrawMove(connID, x, y)
		})

		socket.On("draw-end", func(datas ...any) {
			data := eventPayload(datas)
			x, okX := floatField(data, "x")
			y, okY := floatField(data, "y")
			if !okX || !okY {
				return
			}
			hub.DrawEnd(connID, x, y)
		})

		socket.On("clear-canvas", func(datas ...any) {
			hub.ClearCanvas(context.Background(), connID)
		})

		socket.On("disconnect", func(datas ...any) {
			hub.Leave(context.Background(), connID)
		})
	})

	return srv, hub
}

// eventPayload extracts the first argument as the event's payload object.
// Anything else yields nil, which the field accessors treat as absent.
func eventPayload(datas []any) map[string]any {
	if len(datas) == 0 {
		return nil
	}
	m, _ := datas[0].(map[string]any)
	return m
}

func stringField(data map[string]any, key string) (string, bool) {
	v, ok := data[key].(string)
	return v, ok
}

func floatField(data map[string]any, key string) (float64, bool) {
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
