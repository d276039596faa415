package core

import (
	"context"
	"errors"
	"time"
)

const (
	CommandStroke = "stroke"
	CommandClear  = "clear"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

type (
	// Point is a single canvas coordinate.
	Point struct {
		X float64 `json:"x" bson:"x"`
		Y float64 `json:"y" bson:"y"`
	}

	// StrokeData is the payload of a persisted stroke command. A clear
	// command carries an empty StrokeData, which marshals as {}.
	StrokeData struct {
		StrokeID    string  `json:"strokeId,omitempty" bson:"strokeId,omitempty"`
		Points      []Point `json:"points,omitempty" bson:"points,omitempty"`
		Color       string  `json:"color,omitempty" bson:"color,omitempty"`
		StrokeWidth float64 `json:"strokeWidth,omitempty" bson:"strokeWidth,omitempty"`
	}

	// Command is one durable drawing command. A stroke command always holds
	// the simplified point sequence, never the raw one.
	Command struct {
		Type      string     `json:"type" bson:"type"`
		Data      StrokeData `json:"data" bson:"data"`
		Timestamp time.Time  `json:"timestamp" bson:"timestamp"`
	}

	// Room is the durable per-room document.
	Room struct {
		RoomID       string    `json:"roomId" bson:"roomId"`
		CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
		LastActivity time.Time `json:"lastActivity" bson:"lastActivity"`
		DrawingData  []Command `json:"drawingData" bson:"drawingData"`
	}

	// RoomSummary is room metadata without the drawing history.
	RoomSummary struct {
		RoomID       string    `json:"roomId"`
		CreatedAt    time.Time `json:"createdAt"`
		LastActivity time.Time `json:"lastActivity"`
	}

	// RoomStore is the persistence contract shared by the HTTP handlers and
	// the collab engine. FindRoom returns ErrRoomNotFound for unknown ids;
	// CreateRoom returns ErrRoomExists on a duplicate. AppendCommands and
	// ReplaceCommands also bump the room's lastActivity.
	RoomStore interface {
		FindRoom(ctx context.Context, roomID string) (*Room, error)
		CreateRoom(ctx context.Context, room *Room) error
		AppendCommands(ctx context.Context, roomID string, commands []Command) error
		ReplaceCommands(ctx context.Context, roomID string, commands []Command) error
		TouchRoom(ctx context.Context, roomID string) error
		ListRooms(ctx context.Context) ([]RoomSummary, error)
	}
)

const (
	EventStart = "start"
	EventMove  = "move"
	EventEnd   = "end"
	EventClear = "clear"
)

// DrawEvent is the incremental wire representation of drawing activity.
// It is never persisted; snapshots are expanded into events on join and
// live strokes are broadcast as events before they are ever compacted.
type DrawEvent struct {
	Kind        string
	StrokeID    string
	Point       Point
	Color       string
	StrokeWidth float64
	Timestamp   time.Time
}

// WirePayload renders the event in the shape clients consume: a tagged
// command with a nested incremental data object.
func (e DrawEvent) WirePayload() map[string]any {
	if e.Kind == EventClear {
		return map[string]any{
			"type":      CommandClear,
			"data":      map[string]any{},
			"timestamp": e.Timestamp,
		}
	}
	return map[string]any{
		"type": CommandStroke,
		"data": map[string]any{
			"type":        e.Kind,
			"strokeId":    e.StrokeID,
			"x":           e.Point.X,
			"y":           e.Point.Y,
			"color":       e.Color,
			"strokeWidth": e.StrokeWidth,
		},
		"timestamp": e.Timestamp,
	}
}
