//go:build cgo

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"whiteboard-server/core"
)

// CGOEnabled reports whether the sqlite store is built with cgo support.
// The go-sqlite3 driver requires cgo; tests skip when it's unavailable.
const CGOEnabled = true

type roomStore struct {
	db *sql.DB
}

func NewRoomStore(dataSourceName string) core.RoomStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	sts := `CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		drawing_data TEXT NOT NULL DEFAULT '[]'
	);`
	if _, err := db.Exec(sts); err != nil {
		stdlog.Fatal(err)
	}

	return &roomStore{db}
}

func (s *roomStore) FindRoom(ctx context.Context, roomID string) (*core.Room, error) {
	var (
		createdAt    int64
		lastActivity int64
		drawingData  []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT created_at, last_activity, drawing_data FROM rooms WHERE room_id = ?", roomID).
		Scan(&createdAt, &lastActivity, &drawingData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find room %s: %w", roomID, err)
	}

	room := core.Room{
		RoomID:       roomID,
		CreatedAt:    time.UnixMilli(createdAt),
		LastActivity: time.UnixMilli(lastActivity),
	}
	if err := json.Unmarshal(drawingData, &room.DrawingData); err != nil {
		return nil, fmt.Errorf("corrupt drawing data for room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *roomStore) CreateRoom(ctx context.Context, room *core.Room) error {
	data, err := json.Marshal(room.DrawingData)
	if err != nil {
		return fmt.Errorf("failed to encode drawing data: %w", err)
	}
	if room.DrawingData == nil {
		data = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id, created_at, last_activity, drawing_data) VALUES (?, ?, ?, ?)",
		room.RoomID, room.CreatedAt.UnixMilli(), room.LastActivity.UnixMilli(), data)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrRoomExists
		}
		return fmt.Errorf("failed to create room %s: %w", room.RoomID, err)
	}
	return nil
}

// isUniqueViolation matches the sqlite primary-key constraint error without
// depending on the driver's error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func (s *roomStore) AppendCommands(ctx context.Context, roomID string, commands []core.Command) error {
	return s.updateDrawingData(ctx, roomID, func(existing []core.Command) []core.Command {
		return append(existing, commands...)
	})
}

func (s *roomStore) ReplaceCommands(ctx context.Context, roomID string, commands []core.Command) error {
	return s.updateDrawingData(ctx, roomID, func([]core.Command) []core.Command {
		return commands
	})
}

// updateDrawingData rewrites the room's history inside a transaction so
// concurrent appenders cannot lose each other's commands.
func (s *roomStore) updateDrawingData(ctx context.Context, roomID string, apply func([]core.Command) []core.Command) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, "SELECT drawing_data FROM rooms WHERE room_id = ?", roomID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrRoomNotFound
		}
		return fmt.Errorf("failed to read room %s: %w", roomID, err)
	}

	var existing []core.Command
	if err := json.Unmarshal(raw, &existing); err != nil {
		return fmt.Errorf("corrupt drawing data for room %s: %w", roomID, err)
	}

	updated, err := json.Marshal(apply(existing))
	if err != nil {
		return fmt.Errorf("failed to encode drawing data: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE rooms SET drawing_data = ?, last_activity = ? WHERE room_id = ?",
		updated, time.Now().UnixMilli(), roomID)
	if err != nil {
		return fmt.Errorf("failed to update room %s: %w", roomID, err)
	}

	return tx.Commit()
}

func (s *roomStore) TouchRoom(ctx context.Context, roomID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET last_activity = ? WHERE room_id = ?",
		time.Now().UnixMilli(), roomID)
	if err != nil {
		return fmt.Errorf("failed to touch room %s: %w", roomID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrRoomNotFound
	}
	return nil
}

func (s *roomStore) ListRooms(ctx context.Context) ([]core.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT room_id, created_at, last_activity FROM rooms ORDER BY last_activity DESC, room_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var summaries []core.RoomSummary
	for rows.Next() {
		var (
			roomID       string
			createdAt    int64
			lastActivity int64
		)
		if err := rows.Scan(&roomID, &createdAt, &lastActivity); err != nil {
			return nil, err
		}
		summaries = append(summaries, core.RoomSummary{
			RoomID:       roomID,
			CreatedAt:    time.UnixMilli(createdAt),
			LastActivity: time.UnixMilli(lastActivity),
		})
	}
	return summaries, rows.Err()
}
