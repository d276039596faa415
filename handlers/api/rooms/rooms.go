package rooms

import (
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"whiteboard-server/core"
)

const (
	roomIDChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomIDLength  = 6
	maxIDAttempts = 10
)

type (
	JoinRoomRequest struct {
		RoomID string `json:"roomId"`
	}

	JoinRoomResponse struct {
		Success bool   `json:"success"`
		RoomID  string `json:"roomId"`
		Message string `json:"message,omitempty"`
	}

	RoomResponse struct {
		Success bool       `json:"success"`
		Room    *core.Room `json:"room"`
	}

	ErrorResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	RoomListEntry struct {
		RoomID       string    `json:"roomId"`
		Users        int       `json:"users"`
		CreatedAt    time.Time `json:"createdAt"`
		LastActivity time.Time `json:"lastActivity"`
	}

	// LiveCounter reports live connection counts per room; the collab
	// registry satisfies it.
	LiveCounter interface {
		CountInRoom(roomID string) int
	}
)

func generateRoomID() string {
	id := make([]byte, roomIDLength)
	for i := range id {
		id[i] = roomIDChars[rand.Intn(len(roomIDChars))]
	}
	return string(id)
}

func newRoom(roomID string) *core.Room {
	now := time.Now()
	return &core.Room{
		RoomID:       roomID,
		CreatedAt:    now,
		LastActivity: now,
		DrawingData:  []core.Command{},
	}
}

// HandleJoin creates or joins a room. Without a roomId in the body a fresh
// random identifier is generated, retrying on collision; with one, the room
// is created if unknown and its activity refreshed if known.
func HandleJoin(store core.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			logrus.WithError(err).Warn("invalid join request body")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{Message: "Invalid request body"})
			return
		}

		if req.RoomID == "" {
			for attempt := 0; attempt < maxIDAttempts; attempt++ {
				roomID := generateRoomID()
				err := store.CreateRoom(r.Context(), newRoom(roomID))
				if errors.Is(err, core.ErrRoomExists) {
					continue
				}
				if err != nil {
					logrus.WithError(err).Error("failed to create room")
					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, ErrorResponse{Message: "Failed to join/create room"})
					return
				}
				render.JSON(w, r, JoinRoomResponse{Success: true, RoomID: roomID, Message: "Room created"})
				return
			}
			logrus.Error("exhausted room id generation attempts")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Message: "Failed to join/create room"})
			return
		}

		err := store.CreateRoom(r.Context(), newRoom(req.RoomID))
		switch {
		case err == nil:
			render.JSON(w, r, JoinRoomResponse{Success: true, RoomID: req.RoomID, Message: "Room created"})
		case errors.Is(err, core.ErrRoomExists):
			if err := store.TouchRoom(r.Context(), req.RoomID); err != nil {
				logrus.WithField("room_id", req.RoomID).WithError(err).Warn("failed to touch room")
			}
			render.JSON(w, r, JoinRoomResponse{Success: true, RoomID: req.RoomID, Message: "Joined existing room"})
		default:
			logrus.WithField("room_id", req.RoomID).WithError(err).Error("failed to create room")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Message: "Failed to join/create room"})
		}
	}
}

// HandleGet returns room metadata plus the durable drawing history.
func HandleGet(store core.RoomStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		room, err := store.FindRoom(r.Context(), roomID)
		if err != nil {
			if errors.Is(err, core.ErrRoomNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, ErrorResponse{Message: "Room not found"})
				return
			}
			logrus.WithField("room_id", roomID).WithError(err).Error("failed to get room")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Message: "Failed to get room info"})
			return
		}

		if err := store.TouchRoom(r.Context(), roomID); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("failed to touch room")
		}

		render.JSON(w, r, RoomResponse{Success: true, Room: room})
	}
}

// HandleList returns stored rooms merged with live user counts, busiest
// first.
func HandleList(store core.RoomStore, live LiveCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := store.ListRooms(r.Context())
		if err != nil {
			logrus.WithError(err).Error("failed to list rooms")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{Message: "Failed to list rooms"})
			return
		}

		entries := make([]RoomListEntry, 0, len(summaries))
		for _, summary := range summaries {
			entries = append(entries, RoomListEntry{
				RoomID:       summary.RoomID,
				Users:        live.CountInRoom(summary.RoomID),
				CreatedAt:    summary.CreatedAt,
				LastActivity: summary.LastActivity,
			})
		}

		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Users == entries[j].Users {
				if entries[i].LastActivity.Equal(entries[j].LastActivity) {
					return entries[i].RoomID < entries[j].RoomID
				}
				return entries[i].LastActivity.After(entries[j].LastActivity)
			}
			return entries[i].Users > entries[j].Users
		})

		render.JSON(w, r, entries)
	}
}
